package broker

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ipfs-force-community/sophon-bridge/storage"
	"github.com/ipfs-force-community/sophon-bridge/types"
)

const sessionsKey = "sessions"

// sessionStore holds the per-origin grants. Only the broker mutates it, in
// response to resolved Connect/Disconnect/Logout requests.
type sessionStore struct {
	lk       sync.Mutex
	sessions map[string]*types.Session
	store    storage.Store
}

func newSessionStore(ctx context.Context, store storage.Store) *sessionStore {
	s := &sessionStore{
		sessions: make(map[string]*types.Session),
		store:    store,
	}
	var saved []*types.Session
	if storage.Load(ctx, store, sessionsKey, &saved) {
		for _, sess := range saved {
			s.sessions[sess.Origin] = sess
		}
	}
	return s
}

func (s *sessionStore) get(origin string) (*types.Session, bool) {
	s.lk.Lock()
	defer s.lk.Unlock()
	sess, ok := s.sessions[origin]
	if !ok {
		return nil, false
	}
	cp := *sess
	cp.Accounts = append([]common.Address(nil), sess.Accounts...)
	return &cp, true
}

// Connected reports whether origin currently holds a live session. The relay
// consults this before re-emitting any broadcast into a page.
func (s *sessionStore) Connected(origin string) bool {
	s.lk.Lock()
	defer s.lk.Unlock()
	sess, ok := s.sessions[origin]
	return ok && sess.Connected
}

func (s *sessionStore) upsert(ctx context.Context, sess *types.Session) {
	sess.LastActivity = time.Now()
	s.lk.Lock()
	s.sessions[sess.Origin] = sess
	s.lk.Unlock()
	s.save(ctx)
}

func (s *sessionStore) disconnect(ctx context.Context, origin string) bool {
	s.lk.Lock()
	_, ok := s.sessions[origin]
	if ok {
		delete(s.sessions, origin)
	}
	s.lk.Unlock()
	if ok {
		s.save(ctx)
	}
	return ok
}

func (s *sessionStore) clearAll(ctx context.Context) []string {
	s.lk.Lock()
	origins := make([]string, 0, len(s.sessions))
	for origin := range s.sessions {
		origins = append(origins, origin)
	}
	s.sessions = make(map[string]*types.Session)
	s.lk.Unlock()
	s.save(ctx)
	return origins
}

// setChain records the new selected chain on every live session and returns
// the origins touched, in stable order.
func (s *sessionStore) setChain(ctx context.Context, chainID string) []string {
	s.lk.Lock()
	origins := make([]string, 0, len(s.sessions))
	for origin, sess := range s.sessions {
		if sess.Connected {
			sess.ChainID = chainID
			origins = append(origins, origin)
		}
	}
	s.lk.Unlock()
	s.save(ctx)
	return origins
}

func (s *sessionStore) list() []*types.Session {
	s.lk.Lock()
	defer s.lk.Unlock()
	out := make([]*types.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		cp := *sess
		out = append(out, &cp)
	}
	return out
}

func (s *sessionStore) save(ctx context.Context) {
	s.lk.Lock()
	saved := make([]*types.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		saved = append(saved, sess)
	}
	s.lk.Unlock()
	storage.Save(ctx, s.store, sessionsKey, saved)
}
