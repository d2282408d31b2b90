// Package memstore provides an in-memory implementation of recipients.Store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mkaumee/Alert.Ai/internal/incident"
	"github.com/mkaumee/Alert.Ai/internal/recipients"
)

// Store holds recipients in memory. Suitable for dev/testing.
type Store struct {
	mu   sync.RWMutex
	byID map[string]*recipients.Recipient
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{byID: make(map[string]*recipients.Recipient)}
}

// Put inserts or replaces a copy of the recipient.
func (s *Store) Put(_ context.Context, r *recipients.Recipient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := clone(r)
	s.byID[r.ID] = cp
	return nil
}

// Get retrieves a recipient by ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*recipients.Recipient, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[id]
	if !ok {
		return nil, false, nil
	}
	return clone(r), true, nil
}

// SetLocation updates a recipient's position.
func (s *Store) SetLocation(_ context.Context, id string, loc incident.Location, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return incident.ErrNotFound
	}
	l := loc
	r.Location = &l
	r.UpdatedAt = at
	return nil
}

// List returns copies of every recipient, ordered by ID.
func (s *Store) List(_ context.Context) ([]recipients.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]recipients.Recipient, 0, len(s.byID))
	for _, r := range s.byID {
		out = append(out, *clone(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func clone(r *recipients.Recipient) *recipients.Recipient {
	cp := *r
	if r.Location != nil {
		l := *r.Location
		cp.Location = &l
	}
	cp.Channels = append([]recipients.Channel(nil), r.Channels...)
	return &cp
}
