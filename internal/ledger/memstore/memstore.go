// Package memstore provides an in-memory implementation of ledger.Store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mkaumee/Alert.Ai/internal/incident"
)

// Store holds incident records in memory. Suitable for dev/testing.
type Store struct {
	mu      sync.RWMutex
	records map[string]*incident.Record
	order   []string // append order, oldest first
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{records: make(map[string]*incident.Record)}
}

// Append inserts a copy of the record.
func (s *Store) Append(_ context.Context, rec *incident.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records[rec.ID] = &cp
	s.order = append(s.order, rec.ID)
	return nil
}

// Get retrieves a record by ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*incident.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, false, nil
	}
	cp := *rec
	return &cp, true, nil
}

// SetStatus moves a pending record to its final status.
func (s *Store) SetStatus(_ context.Context, id string, status incident.VerificationStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return incident.ErrNotFound
	}
	if rec.Status != incident.StatusPending {
		return incident.ErrAlreadyDecided
	}
	rec.Status = status
	rec.VerifiedAt = at
	return nil
}

// List returns up to limit records, newest first.
func (s *Store) List(_ context.Context, limit int) ([]incident.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]incident.Record, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, *s.records[s.order[i]])
	}
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListVerifiedSince returns verified records created at or after since, newest first.
func (s *Store) ListVerifiedSince(_ context.Context, since time.Time) ([]incident.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []incident.Record
	for _, id := range s.order {
		rec := s.records[id]
		if rec.Status != incident.StatusVerified || rec.CreatedAt.Before(since) {
			continue
		}
		out = append(out, *rec)
	}
	sortNewestFirst(out)
	return out, nil
}

func sortNewestFirst(recs []incident.Record) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.After(recs[j].CreatedAt)
		}
		return recs[i].ID > recs[j].ID
	})
}
