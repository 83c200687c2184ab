package state

import (
	"encoding/json"
	"sync"
)

// MemoryBackend keeps records as marshaled JSON in a map. Used in tests
// and when no state path is configured.
type MemoryBackend struct {
	mu   sync.Mutex
	docs map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{docs: map[string][]byte{}}
}

func (b *MemoryBackend) Load(user string) (*Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	doc, ok := b.docs[user]
	if !ok {
		return nil, nil
	}
	var rec Record
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (b *MemoryBackend) Save(user string, rec *Record) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.docs[user] = doc
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) Close() error { return nil }
