package memstore

import (
	"context"
	"sync"

	"github.com/arannis-dev/qlock/lib/store"
)

// storeImpl is a single-mutex, single-process implementation of
// store.Adapter. It is not distributed and offers no durability.
type storeImpl struct {
	mu      sync.Mutex
	records map[string]store.Record
}

// NewMemStore creates a new in-memory store.Adapter.
//
// This implementation is not distributed and only works within a single
// process. It is suitable for tests and for single-node experimentation.
func NewMemStore() store.Adapter {
	return &storeImpl{
		records: make(map[string]store.Record),
	}
}

func (s *storeImpl) PutIfAbsent(_ context.Context, key string, rec store.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[key]; ok {
		return store.NewError(store.RetCConflict, "record already exists")
	}
	s.records[key] = rec
	return nil
}

func (s *storeImpl) PutIfVersion(_ context.Context, key string, rec store.Record, expectedVersion string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[key]
	if !ok || cur.VersionNumber != expectedVersion {
		return store.NewError(store.RetCConflict, "version mismatch or record absent")
	}
	s.records[key] = rec
	return nil
}

func (s *storeImpl) DeleteIfVersion(_ context.Context, key string, expectedVersion string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[key]
	if !ok || cur.VersionNumber != expectedVersion {
		return store.NewError(store.RetCConflict, "version mismatch or record absent")
	}
	delete(s.records, key)
	return nil
}

func (s *storeImpl) Get(_ context.Context, key string) (*store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}
