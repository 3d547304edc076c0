package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/google/uuid"

	"github.com/ipfs-force-community/sophon-bridge/types"
)

var log = logging.Logger("bridge_transport")

type pendingCall struct {
	result   chan *types.ResponseEvent
	deadline time.Time
	issuedAt time.Time
}

// Registry matches correlated replies to in-flight sends. Settlement is
// exactly once per id: late or duplicate replies for a settled or unknown id
// are dropped silently, which is the intended defense against the peer
// replaying responses.
type Registry struct {
	lk     sync.Mutex
	calls  map[uuid.UUID]*pendingCall
	cfg    *types.RequestConfig
	closed bool
}

func NewRegistry(ctx context.Context, cfg *types.RequestConfig) *Registry {
	r := &Registry{
		calls: make(map[uuid.UUID]*pendingCall),
		cfg:   cfg,
	}
	go r.cleanCalls(ctx)
	return r
}

// Register opens one correlation slot for id. The returned channel receives
// exactly one ResponseEvent: the reply, a timeout, or a connection-closed
// rejection on teardown.
func (r *Registry) Register(id uuid.UUID, timeout time.Duration) (<-chan *types.ResponseEvent, error) {
	r.lk.Lock()
	defer r.lk.Unlock()

	if r.closed {
		return nil, types.ErrConnectionClosed
	}
	if _, ok := r.calls[id]; ok {
		return nil, fmt.Errorf("correlation id %s already in flight", id)
	}
	call := &pendingCall{
		result:   make(chan *types.ResponseEvent, 1),
		deadline: time.Now().Add(timeout),
		issuedAt: time.Now(),
	}
	r.calls[id] = call
	return call.result, nil
}

// Respond settles the call with the given id. Returns false if the id is
// unknown, in which case the reply was late or forged and is ignored.
func (r *Registry) Respond(resp *types.ResponseEvent) bool {
	r.lk.Lock()
	call, ok := r.calls[resp.ID]
	if ok {
		delete(r.calls, resp.ID)
	}
	r.lk.Unlock()
	if !ok {
		log.Debugf("drop reply for unknown or settled id %s", resp.ID)
		return false
	}
	call.result <- resp
	return true
}

// Forget abandons the slot without settling it, used when the caller gave up
// (context cancelled) and a later reply must have no observable effect.
func (r *Registry) Forget(id uuid.UUID) {
	r.lk.Lock()
	delete(r.calls, id)
	r.lk.Unlock()
}

// Close rejects every still-open call with a connection-closed cause so no
// caller is left hanging.
func (r *Registry) Close() {
	r.lk.Lock()
	defer r.lk.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for id, call := range r.calls {
		delete(r.calls, id)
		call.result <- &types.ResponseEvent{
			ID:    id,
			Error: types.MapError(types.ErrConnectionClosed),
		}
	}
}

func (r *Registry) cleanCalls(ctx context.Context) {
	tm := time.NewTicker(r.cfg.ClearInterval)
	defer tm.Stop()
	for {
		select {
		case <-tm.C:
			r.expire(time.Now())
		case <-ctx.Done():
			r.Close()
			return
		}
	}
}

func (r *Registry) expire(now time.Time) {
	r.lk.Lock()
	defer r.lk.Unlock()
	for id, call := range r.calls {
		if now.After(call.deadline) {
			delete(r.calls, id)
			call.result <- &types.ResponseEvent{
				ID:    id,
				Error: types.MapError(types.ErrRequestTimeout),
			}
		}
	}
}
