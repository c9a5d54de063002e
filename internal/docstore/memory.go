package docstore

import (
	"context"
	"sync"
)

var _ DocumentStore = (*MemoryStore)(nil)

// MemoryStore is an in-memory DocumentStore used in development and tests.
type MemoryStore struct {
	docs map[Path]Fields
	mu   sync.RWMutex

	writes int
}

// NewMemoryStore creates an empty in-memory document store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[Path]Fields),
	}
}

func (s *MemoryStore) Get(_ context.Context, path Path) (Fields, error) {
	if err := path.validDocument(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[path]
	if !ok {
		return nil, ErrNotFound
	}
	return doc.Clone(), nil
}

func (s *MemoryStore) Set(_ context.Context, path Path, fields Fields) error {
	if err := path.validDocument(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.docs[path] = Merge(s.docs[path], fields)
	s.writes++
	return nil
}

func (s *MemoryStore) List(_ context.Context, collection Path) (map[string]Fields, error) {
	if err := collection.validCollection(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Fields)
	for p, doc := range s.docs {
		if p.Collection() == collection {
			out[p.ID()] = doc.Clone()
		}
	}
	return out, nil
}

// Writes returns the number of Set calls that succeeded.
func (s *MemoryStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}
