package transport

import (
	"context"
	"sync"
	"time"

	"github.com/ipfs-force-community/sophon-bridge/types"
)

// Dialer opens (or reopens) the underlying outbound channel.
type Dialer func(ctx context.Context) (chan *types.RequestEvent, error)

// Adapter turns the raw outbound channel into a send-and-await-one-reply
// operation. When the channel turns out to be gone it reconnects with
// bounded backoff; sends issued while reconnecting queue in FIFO order and
// flush on success, or are all rejected once the attempt budget runs out.
type Adapter struct {
	cfg      *types.RequestConfig
	registry *Registry
	dial     Dialer

	lk           sync.Mutex
	outbound     chan *types.RequestEvent
	queue        []*types.RequestEvent
	reconnecting bool
	down         bool
	onDown       func()
}

func NewAdapter(ctx context.Context, cfg *types.RequestConfig, dial Dialer) (*Adapter, error) {
	out, err := dial(ctx)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		cfg:      cfg,
		registry: NewRegistry(ctx, cfg),
		dial:     dial,
		outbound: out,
	}, nil
}

// Registry exposes the correlation registry so the owner's read loop can
// dispatch inbound replies.
func (a *Adapter) Registry() *Registry {
	return a.registry
}

// OnDown registers the hook fired once reconnection gives up. The owning
// component surfaces the user-visible disconnected transition there.
func (a *Adapter) OnDown(fn func()) {
	a.lk.Lock()
	a.onDown = fn
	a.lk.Unlock()
}

// Send pushes req and waits for the correlated reply or the timeout. A reply
// arriving after the timeout is dropped by the registry and has no
// observable effect.
func (a *Adapter) Send(ctx context.Context, req *types.RequestEvent, timeout time.Duration) (*types.ResponseEvent, error) {
	resCh, err := a.registry.Register(req.ID, timeout)
	if err != nil {
		return nil, err
	}

	if err := a.push(ctx, req); err != nil {
		a.registry.Forget(req.ID)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-resCh:
		return resp, nil
	case <-timer.C:
		a.registry.Forget(req.ID)
		return nil, types.ErrRequestTimeout
	case <-ctx.Done():
		a.registry.Forget(req.ID)
		return nil, ctx.Err()
	}
}

func (a *Adapter) push(ctx context.Context, req *types.RequestEvent) error {
	a.lk.Lock()
	if a.down {
		a.lk.Unlock()
		return types.ErrConnectionClosed
	}
	if a.reconnecting {
		err := a.enqueueLocked(req)
		a.lk.Unlock()
		return err
	}
	out := a.outbound
	a.lk.Unlock()

	err := sendOnce(ctx, out, req)
	if err != types.ErrConnectionClosed {
		return err
	}

	// channel is gone, queue this send and start recovering
	a.lk.Lock()
	defer a.lk.Unlock()
	if a.down {
		return types.ErrConnectionClosed
	}
	if qErr := a.enqueueLocked(req); qErr != nil {
		return qErr
	}
	if !a.reconnecting {
		a.reconnecting = true
		go a.reconnect(context.Background())
	}
	return nil
}

func (a *Adapter) enqueueLocked(req *types.RequestEvent) error {
	if len(a.queue) >= a.cfg.RequestQueueSize {
		return types.ErrConnectionClosed
	}
	a.queue = append(a.queue, req)
	return nil
}

func sendOnce(ctx context.Context, out chan *types.RequestEvent, req *types.RequestEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.ErrConnectionClosed
		}
	}()
	select {
	case out <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Adapter) reconnect(ctx context.Context) {
	backoff := a.cfg.ReconnectBackoff
	for attempt := 1; attempt <= a.cfg.ReconnectAttempts; attempt++ {
		time.Sleep(backoff)
		backoff *= 2

		out, err := a.dial(ctx)
		if err != nil {
			log.Warnf("reconnect attempt %d/%d failed: %s", attempt, a.cfg.ReconnectAttempts, err)
			continue
		}

		a.lk.Lock()
		a.outbound = out
		queued := a.queue
		a.queue = nil
		a.reconnecting = false
		a.lk.Unlock()

		log.Infof("reconnected after %d attempts, flushing %d queued sends", attempt, len(queued))
		for _, req := range queued {
			if err := sendOnce(ctx, out, req); err != nil {
				a.registry.Respond(&types.ResponseEvent{ID: req.ID, Error: types.MapError(types.ErrConnectionClosed)})
			}
		}
		return
	}

	a.lk.Lock()
	a.down = true
	queued := a.queue
	a.queue = nil
	a.reconnecting = false
	onDown := a.onDown
	a.lk.Unlock()

	log.Errorf("giving up reconnect after %d attempts, rejecting %d queued sends", a.cfg.ReconnectAttempts, len(queued))
	for _, req := range queued {
		a.registry.Respond(&types.ResponseEvent{ID: req.ID, Error: types.MapError(types.ErrConnectionClosed)})
	}
	if onDown != nil {
		onDown()
	}
}
