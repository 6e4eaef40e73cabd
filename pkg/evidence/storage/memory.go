package storage

import (
	"context"
	"slices"
	"sort"
	"sync"

	"mercator-hq/warden/pkg/evidence"
)

// MemoryStorage implements evidence.Storage in memory. It backs tests and
// the replay command; records do not survive a restart.
type MemoryStorage struct {
	records map[string]*evidence.Record
	mu      sync.RWMutex
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		records: make(map[string]*evidence.Record),
	}
}

// Store keeps a copy of record.
func (s *MemoryStorage) Store(_ context.Context, record *evidence.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[record.ID] = clone(record)
	return nil
}

// Query returns copies of the matching records.
func (s *MemoryStorage) Query(_ context.Context, query *evidence.Query) ([]*evidence.Record, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	results := []*evidence.Record{}
	for _, record := range s.records {
		if query.Matches(record) {
			results = append(results, clone(record))
		}
	}
	s.mu.RUnlock()

	asc := query.SortOrder == "asc"
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if !a.RequestTime.Equal(b.RequestTime) {
			if asc {
				return a.RequestTime.Before(b.RequestTime)
			}
			return a.RequestTime.After(b.RequestTime)
		}
		if asc {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})

	limit := query.Limit
	if limit == 0 {
		limit = evidence.DefaultQueryLimit
	}
	if query.Offset >= len(results) {
		return []*evidence.Record{}, nil
	}
	end := min(query.Offset+limit, len(results))
	return results[query.Offset:end], nil
}

// Count returns the number of matching records.
func (s *MemoryStorage) Count(_ context.Context, query *evidence.Query) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, record := range s.records {
		if query.Matches(record) {
			n++
		}
	}
	return n, nil
}

// Delete removes matching records.
func (s *MemoryStorage) Delete(_ context.Context, query *evidence.Query) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, record := range s.records {
		if query.Matches(record) {
			delete(s.records, id)
			deleted++
		}
	}
	return deleted, nil
}

// Close drops every record.
func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]*evidence.Record)
	return nil
}

// GetByID returns a copy of one record, or nil.
func (s *MemoryStorage) GetByID(id string) *evidence.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return nil
	}
	return clone(record)
}

// Size returns the number of stored records.
func (s *MemoryStorage) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.records)
}

func clone(r *evidence.Record) *evidence.Record {
	cp := *r
	cp.PIITypes = slices.Clone(r.PIITypes)
	return &cp
}
