package storage

import (
	"context"
	"encoding/json"
	"os"
	"sync"
)

var _ Store = (*FileStore)(nil)

// FileStore persists the whole record set as one JSON file.
type FileStore struct {
	lk   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Get(ctx context.Context, keys []string) (map[string]json.RawMessage, error) {
	f.lk.Lock()
	defer f.lk.Unlock()
	all, err := f.read()
	if err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage, len(keys))
	for _, key := range keys {
		if raw, ok := all[key]; ok {
			out[key] = raw
		}
	}
	return out, nil
}

func (f *FileStore) Set(ctx context.Context, values map[string]json.RawMessage) error {
	f.lk.Lock()
	defer f.lk.Unlock()
	all, err := f.read()
	if err != nil {
		return err
	}
	for key, raw := range values {
		all[key] = raw
	}
	return f.write(all)
}

func (f *FileStore) Remove(ctx context.Context, keys []string) error {
	f.lk.Lock()
	defer f.lk.Unlock()
	all, err := f.read()
	if err != nil {
		return err
	}
	for _, key := range keys {
		delete(all, key)
	}
	return f.write(all)
}

func (f *FileStore) read() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return make(map[string]json.RawMessage), nil
	}
	if err != nil {
		return nil, err
	}
	all := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	return all, nil
}

func (f *FileStore) write(all map[string]json.RawMessage) error {
	data, err := json.Marshal(all)
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, data, 0644)
}
