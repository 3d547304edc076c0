package broker

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ipfs-force-community/sophon-bridge/types"
)

// pendingStore tracks approval-requiring requests between validation and the
// human decision. Exactly one live entry per id; take removes it so a
// duplicate decision finds nothing and becomes a no-op.
type pendingStore struct {
	lk   sync.Mutex
	reqs map[uuid.UUID]*types.PendingRequest
}

func newPendingStore() *pendingStore {
	return &pendingStore{
		reqs: make(map[uuid.UUID]*types.PendingRequest),
	}
}

func (p *pendingStore) add(pr *types.PendingRequest) {
	p.lk.Lock()
	p.reqs[pr.ID] = pr
	p.lk.Unlock()
}

func (p *pendingStore) take(id uuid.UUID) (*types.PendingRequest, bool) {
	p.lk.Lock()
	defer p.lk.Unlock()
	pr, ok := p.reqs[id]
	if ok {
		delete(p.reqs, id)
	}
	return pr, ok
}

func (p *pendingStore) get(id uuid.UUID) (*types.PendingRequest, bool) {
	p.lk.Lock()
	defer p.lk.Unlock()
	pr, ok := p.reqs[id]
	if !ok {
		return nil, false
	}
	cp := *pr
	return &cp, true
}

func (p *pendingStore) list() []*types.PendingRequest {
	p.lk.Lock()
	defer p.lk.Unlock()
	out := make([]*types.PendingRequest, 0, len(p.reqs))
	for _, pr := range p.reqs {
		cp := *pr
		out = append(out, &cp)
	}
	return out
}

// expired removes and returns every entry older than ttl.
func (p *pendingStore) expired(ttl time.Duration) []*types.PendingRequest {
	p.lk.Lock()
	defer p.lk.Unlock()
	var out []*types.PendingRequest
	now := time.Now()
	for id, pr := range p.reqs {
		if now.Sub(pr.CreateTime) > ttl {
			delete(p.reqs, id)
			out = append(out, pr)
		}
	}
	return out
}

func (p *pendingStore) count() int {
	p.lk.Lock()
	defer p.lk.Unlock()
	return len(p.reqs)
}
