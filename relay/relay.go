package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/google/uuid"

	"github.com/ipfs-force-community/sophon-bridge/types"
)

var log = logging.Logger("bridge_relay")

// RequestHandler is the broker-facing side of the relay.
type RequestHandler interface {
	HandleRequest(ctx context.Context, req *types.RequestEvent) *types.ResponseEvent
	Attach(ctx context.Context, origin string) (<-chan *types.RequestEvent, uuid.UUID, error)
}

// ConnectedChecker gates event re-emission: state about an origin never
// reaches a page that is not on that origin with a live session.
type ConnectedChecker interface {
	Connected(origin string) bool
}

// PageConn is one page's view of the relay: requests go in on FromPage,
// correlated replies come back on ToPage, server initiated events on Events.
type PageConn struct {
	Origin  string
	Title   string
	Favicon string

	FromPage chan *types.RequestEvent
	ToPage   chan *types.ResponseEvent
	Events   chan *types.RequestEvent
}

func NewPageConn(origin, title, favicon string, queueSize int) *PageConn {
	return &PageConn{
		Origin:   origin,
		Title:    title,
		Favicon:  favicon,
		FromPage: make(chan *types.RequestEvent, queueSize),
		ToPage:   make(chan *types.ResponseEvent, queueSize),
		Events:   make(chan *types.RequestEvent, queueSize),
	}
}

// Relay is the only component with access to both message buses. It routes
// and stamps; it holds no business logic.
type Relay struct {
	handler   RequestHandler
	connected ConnectedChecker
	cfg       *types.RequestConfig
}

func New(handler RequestHandler, connected ConnectedChecker, cfg *types.RequestConfig) *Relay {
	return &Relay{
		handler:   handler,
		connected: connected,
		cfg:       cfg,
	}
}

// ServePage runs both pumps for one page until ctx ends.
func (r *Relay) ServePage(ctx context.Context, pc *PageConn) error {
	tabCh, channelID, err := r.handler.Attach(ctx, pc.Origin)
	if err != nil {
		return err
	}
	log.Infow("page attached", "origin", pc.Origin, "channel", channelID)

	waiting := &waitingSet{ids: make(map[uuid.UUID]time.Time)}

	go r.pumpRequests(ctx, pc, waiting)
	go r.pumpBroadcasts(ctx, pc, tabCh, waiting)
	go r.sweepWaiting(ctx, pc, waiting)
	return nil
}

// waitingSet maps a pending decision's call id back to the page request
// still hanging on it.
type waitingSet struct {
	lk  sync.Mutex
	ids map[uuid.UUID]time.Time
}

func (w *waitingSet) add(callID uuid.UUID) {
	w.lk.Lock()
	w.ids[callID] = time.Now()
	w.lk.Unlock()
}

func (w *waitingSet) take(callID uuid.UUID) bool {
	w.lk.Lock()
	defer w.lk.Unlock()
	_, ok := w.ids[callID]
	if ok {
		delete(w.ids, callID)
	}
	return ok
}

func (w *waitingSet) expire(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	w.lk.Lock()
	defer w.lk.Unlock()
	n := 0
	for id, added := range w.ids {
		if added.Before(cutoff) {
			delete(w.ids, id)
			n++
		}
	}
	return n
}

// sweepWaiting prunes correlation slots whose decision broadcast never
// arrived, e.g. dropped because no tab took it within the grace window. The
// wallet side settled these long ago; only the map entry is left.
func (r *Relay) sweepWaiting(ctx context.Context, pc *PageConn, waiting *waitingSet) {
	tm := time.NewTicker(r.cfg.ClearInterval)
	defer tm.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tm.C:
			if n := waiting.expire(r.cfg.ApprovalTimeout + r.cfg.ClearInterval); n > 0 {
				log.Debugf("dropped %d orphaned decision slots for %s", n, pc.Origin)
			}
		}
	}
}

func (r *Relay) pumpRequests(ctx context.Context, pc *PageConn, waiting *waitingSet) {
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-pc.FromPage:
			if !ok {
				return
			}
			r.handleOne(ctx, pc, req, waiting)
		}
	}
}

func (r *Relay) handleOne(ctx context.Context, pc *PageConn, req *types.RequestEvent, waiting *waitingSet) {
	// the page never hangs: any handler panic becomes a structured error
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("handler panic for %s %s: %v", pc.Origin, req.Method, rec)
			r.reply(ctx, pc, &types.ResponseEvent{
				ID:    req.ID,
				Error: types.ErrInternal("request handler failed"),
			})
		}
	}()

	// origin, title and favicon come from the hosting document, never from
	// the payload the page controls; the prompt renders exactly these
	req.Origin = pc.Origin
	req.Title = pc.Title
	req.Favicon = pc.Favicon
	if req.CreateTime.IsZero() {
		req.CreateTime = time.Now()
	}

	resp := r.handler.HandleRequest(ctx, req)
	if resp.Waiting {
		waiting.add(req.ID)
		return
	}
	r.reply(ctx, pc, resp)
}

func (r *Relay) pumpBroadcasts(ctx context.Context, pc *PageConn, tabCh <-chan *types.RequestEvent, waiting *waitingSet) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-tabCh:
			if !ok {
				return
			}
			r.routeBroadcast(ctx, pc, ev, waiting)
		}
	}
}

func (r *Relay) routeBroadcast(ctx context.Context, pc *PageConn, ev *types.RequestEvent, waiting *waitingSet) {
	switch {
	case ev.Method == "InitConnect":
		// handshake, nothing to forward

	case types.IsBroadcastEvent(ev.Method):
		// isolation gate: only a connected origin sees state events;
		// disconnect itself must still get through, the session is
		// already gone by the time it is broadcast
		if ev.Method != types.EventDisconnect && !r.connected.Connected(pc.Origin) {
			log.Debugf("suppress %s for disconnected origin %s", ev.Method, pc.Origin)
			return
		}
		select {
		case pc.Events <- ev:
		case <-ctx.Done():
		}

	case isDecisionResponse(ev.Method):
		var dr types.DecisionResponse
		if err := json.Unmarshal(ev.Payload, &dr); err != nil {
			log.Warnf("malformed decision response: %s", err)
			return
		}
		if !waiting.take(dr.CallID) {
			// not ours, or already settled by timeout
			log.Debugf("drop decision response for unknown call %s", dr.CallID)
			return
		}
		r.reply(ctx, pc, &types.ResponseEvent{
			ID:      dr.CallID,
			Payload: dr.Result,
			Error:   dr.Error,
		})

	default:
		// arbitrary unrelated traffic is tolerated, never thrown on
		log.Debugf("ignore unrecognized broadcast %s", ev.Method)
	}
}

func (r *Relay) reply(ctx context.Context, pc *PageConn, resp *types.ResponseEvent) {
	select {
	case pc.ToPage <- resp:
	case <-ctx.Done():
	}
}

func isDecisionResponse(method string) bool {
	for _, kind := range []types.RequestKind{
		types.KindConnect, types.KindSendTransaction, types.KindPersonalSign,
		types.KindEthSign, types.KindTypedSign, types.KindSwitchChain,
		types.KindAddChain, types.KindWatchAsset,
	} {
		if method == kind.ResponseType() {
			return true
		}
	}
	return false
}
