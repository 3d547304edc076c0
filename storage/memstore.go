package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

var _ Store = (*MemStore)(nil)

// MemStore keeps everything in memory. The fail knob lets tests exercise the
// degrade-to-default paths.
type MemStore struct {
	lk     sync.Mutex
	values map[string]json.RawMessage
	fail   bool
}

func NewMemStore() *MemStore {
	return &MemStore{
		values: make(map[string]json.RawMessage),
	}
}

func (m *MemStore) SetFail(fail bool) {
	m.lk.Lock()
	m.fail = fail
	m.lk.Unlock()
}

func (m *MemStore) Get(ctx context.Context, keys []string) (map[string]json.RawMessage, error) {
	m.lk.Lock()
	defer m.lk.Unlock()
	if m.fail {
		return nil, fmt.Errorf("mock error")
	}
	out := make(map[string]json.RawMessage, len(keys))
	for _, key := range keys {
		if raw, ok := m.values[key]; ok {
			out[key] = raw
		}
	}
	return out, nil
}

func (m *MemStore) Set(ctx context.Context, values map[string]json.RawMessage) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	if m.fail {
		return fmt.Errorf("mock error")
	}
	for key, raw := range values {
		m.values[key] = raw
	}
	return nil
}

func (m *MemStore) Remove(ctx context.Context, keys []string) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	if m.fail {
		return fmt.Errorf("mock error")
	}
	for _, key := range keys {
		delete(m.values, key)
	}
	return nil
}
