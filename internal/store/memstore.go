package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemStore is a map-backed Store used in development mode and as the test
// double for the services. Semantics match the remote backends: upsert
// save, nil on missing load, no-op delete.
type MemStore struct {
	mu   sync.RWMutex
	docs map[string]json.RawMessage

	// SaveErr, when set, makes every Save fail. Tests use it to exercise
	// rollback paths.
	SaveErr error
}

func NewMemStore() *MemStore {
	return &MemStore{docs: make(map[string]json.RawMessage)}
}

func (s *MemStore) Save(ctx context.Context, name string, data any) error {
	if s.SaveErr != nil {
		return s.SaveErr
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal document %q: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[fileName(name)] = raw
	return nil
}

func (s *MemStore) Load(ctx context.Context, name string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.docs[fileName(name)]
	if !ok {
		return nil, nil
	}
	return append(json.RawMessage(nil), raw...), nil
}

func (s *MemStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, fileName(name))
	return nil
}

func (s *MemStore) LoadByPrefix(ctx context.Context, prefix string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Document
	if exact, ok := prefixMatch(prefix); ok {
		if raw, found := s.docs[exact]; found {
			out = append(out, Document{Name: bareName(exact), Data: append(json.RawMessage(nil), raw...)})
		}
		return out, nil
	}
	for file, raw := range s.docs {
		if strings.HasPrefix(file, prefix) {
			out = append(out, Document{Name: bareName(file), Data: append(json.RawMessage(nil), raw...)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Len reports the number of stored documents.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}
