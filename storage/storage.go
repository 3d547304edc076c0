package storage

import (
	"context"
	"encoding/json"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("bridge_storage")

// Store is the durable key-value capability. Implementations are asynchronous
// and may fail; callers degrade to defaults rather than propagating.
type Store interface {
	Get(ctx context.Context, keys []string) (map[string]json.RawMessage, error)
	Set(ctx context.Context, values map[string]json.RawMessage) error
	Remove(ctx context.Context, keys []string) error
}

// Load reads key into out, reporting false on any failure or absence so the
// caller falls back to its default value.
func Load(ctx context.Context, s Store, key string, out interface{}) bool {
	values, err := s.Get(ctx, []string{key})
	if err != nil {
		log.Warnf("load %s: %s", key, err)
		return false
	}
	raw, ok := values[key]
	if !ok || len(raw) == 0 {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		log.Warnf("decode %s: %s", key, err)
		return false
	}
	return true
}

// Save persists v under key fire-and-forget. A write lost to a crash is an
// accepted bounded data-loss window, not a protocol violation.
func Save(ctx context.Context, s Store, key string, v interface{}) {
	raw, err := json.Marshal(v)
	if err != nil {
		log.Warnf("encode %s: %s", key, err)
		return
	}
	if err := s.Set(ctx, map[string]json.RawMessage{key: raw}); err != nil {
		log.Warnf("save %s: %s", key, err)
	}
}
