// Package memstore provides an in-memory implementation of dispatch.Store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mkaumee/Alert.Ai/internal/dispatch"
)

type key struct {
	incidentID  string
	recipientID string
	channel     string
}

// Store holds delivery records in memory. Suitable for dev/testing.
type Store struct {
	mu         sync.Mutex
	deliveries map[key]dispatch.Delivery
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{deliveries: make(map[key]dispatch.Delivery)}
}

// Reserve claims the slot. Returns false when already claimed.
func (s *Store) Reserve(_ context.Context, incidentID, recipientID, channel string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{incidentID, recipientID, channel}
	if _, ok := s.deliveries[k]; ok {
		return false, nil
	}
	s.deliveries[k] = dispatch.Delivery{
		IncidentID:  incidentID,
		RecipientID: recipientID,
		Channel:     channel,
		At:          at,
	}
	return true, nil
}

// Record writes the outcome of a reserved slot.
func (s *Store) Record(_ context.Context, d dispatch.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries[key{d.IncidentID, d.RecipientID, d.Channel}] = d
	return nil
}

// List returns the deliveries recorded for an incident, ordered by recipient
// and channel.
func (s *Store) List(_ context.Context, incidentID string) ([]dispatch.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []dispatch.Delivery
	for k, d := range s.deliveries {
		if k.incidentID == incidentID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RecipientID != out[j].RecipientID {
			return out[i].RecipientID < out[j].RecipientID
		}
		return out[i].Channel < out[j].Channel
	})
	return out, nil
}
