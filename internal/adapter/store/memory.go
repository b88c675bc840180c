package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"ppi-control/internal/domain"
)

// FaultFunc lets tests inject persistence faults. A non-nil return aborts the
// operation with ErrStoreUnavailable.
type FaultFunc func(op, collection string) error

// MemoryStore implements domain.Store in process memory. Records keep
// insertion order within a collection.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string][]domain.Record
	fault       FaultFunc
	writes      int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string][]domain.Record)}
}

// SetFault installs (or clears, with nil) a fault injector.
func (s *MemoryStore) SetFault(fn FaultFunc) {
	s.mu.Lock()
	s.fault = fn
	s.mu.Unlock()
}

// Writes returns the number of successful Insert, Update and Delete calls.
func (s *MemoryStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

func (s *MemoryStore) check(op, collection string) error {
	if s.fault == nil {
		return nil
	}
	if err := s.fault(op, collection); err != nil {
		return domain.NewSubSystemError("store", "MemoryStore."+op, domain.ErrStoreUnavailable, err.Error())
	}
	return nil
}

func (s *MemoryStore) Insert(_ context.Context, collection string, rec domain.Record) (domain.Record, error) {
	norm, err := normalizeRecord(rec)
	if err != nil {
		return nil, domain.NewSubSystemError("store", "MemoryStore.Insert", domain.ErrInvalidInput, err.Error())
	}
	if norm.ID() == "" {
		norm["id"] = domain.NewID()
	}
	if _, ok := norm["created_at"]; !ok {
		norm["created_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("Insert", collection); err != nil {
		return nil, err
	}
	for _, existing := range s.collections[collection] {
		if existing.ID() == norm.ID() {
			return nil, domain.NewSubSystemError("store", "MemoryStore.Insert", domain.ErrDuplicate, collection+"/"+norm.ID())
		}
	}
	s.collections[collection] = append(s.collections[collection], norm)
	s.writes++
	return clone(norm), nil
}

func (s *MemoryStore) Update(_ context.Context, collection, id string, patch domain.Record) (domain.Record, error) {
	norm, err := normalizeRecord(patch)
	if err != nil {
		return nil, domain.NewSubSystemError("store", "MemoryStore.Update", domain.ErrInvalidInput, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("Update", collection); err != nil {
		return nil, err
	}
	for i, rec := range s.collections[collection] {
		if rec.ID() != id {
			continue
		}
		updated := clone(rec)
		mergePatch(updated, norm)
		s.collections[collection][i] = updated
		s.writes++
		return clone(updated), nil
	}
	return nil, domain.NewSubSystemError("store", "MemoryStore.Update", domain.ErrNotFound, collection+"/"+id)
}

func (s *MemoryStore) Query(_ context.Context, collection string, q domain.Query) ([]domain.Record, error) {
	var filter map[string]any
	if len(q.Filter) > 0 {
		v, err := normalize(q.Filter)
		if err != nil {
			return nil, domain.NewSubSystemError("store", "MemoryStore.Query", domain.ErrInvalidInput, err.Error())
		}
		filter, _ = v.(map[string]any)
	}

	s.mu.RLock()
	if err := s.check("Query", collection); err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	var out []domain.Record
	for _, rec := range s.collections[collection] {
		if matches(rec, filter) {
			out = append(out, clone(rec))
		}
	}
	s.mu.RUnlock()

	if q.OrderBy != "" {
		slices.SortStableFunc(out, func(a, b domain.Record) int {
			av, _ := lookup(a, q.OrderBy)
			bv, _ := lookup(b, q.OrderBy)
			return compareValues(av, bv)
		})
	}
	if q.Desc {
		slices.Reverse(out)
	}
	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return nil, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, collection, id string) (domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("Delete", collection); err != nil {
		return nil, err
	}
	recs := s.collections[collection]
	for i, rec := range recs {
		if rec.ID() == id {
			s.collections[collection] = slices.Delete(recs, i, i+1)
			s.writes++
			return rec, nil
		}
	}
	return nil, nil
}

func clone(rec domain.Record) domain.Record {
	v, err := normalize(rec)
	if err != nil {
		return rec
	}
	m, _ := v.(map[string]any)
	return domain.Record(m)
}

var _ domain.Store = (*MemoryStore)(nil)
