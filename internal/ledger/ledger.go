// Package ledger is the append-only system of record for incidents.
//
// Records enter as pending and transition exactly once to verified or
// rejected. Nothing is ever deleted or rewritten; downstream consumers rely
// on the ledger as the audit trail for every report the pipeline accepted.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mkaumee/Alert.Ai/internal/incident"
)

// Store is the persistence interface for incident records.
type Store interface {
	// Append inserts a new record. The caller owns ID assignment.
	Append(ctx context.Context, rec *incident.Record) error

	// Get retrieves a record by ID. ok is false when absent.
	Get(ctx context.Context, id string) (*incident.Record, bool, error)

	// SetStatus moves a pending record to its final status. Returns
	// incident.ErrNotFound for an unknown id and incident.ErrAlreadyDecided
	// when the record already left pending.
	SetStatus(ctx context.Context, id string, status incident.VerificationStatus, at time.Time) error

	// List returns up to limit records, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]incident.Record, error)

	// ListVerifiedSince returns verified records created at or after since,
	// newest first.
	ListVerifiedSince(ctx context.Context, since time.Time) ([]incident.Record, error)
}

// Ledger mints incident identities and enforces the record lifecycle on top
// of a Store.
type Ledger struct {
	store Store
	now   func() time.Time
}

// New returns a Ledger backed by the given store.
func New(store Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// WithClock overrides the time source. For tests.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Append validates the report, mints a new ULID, and persists the record as
// pending. Two appends of identical reports yield distinct records.
func (l *Ledger) Append(ctx context.Context, report incident.Report) (*incident.Record, error) {
	if err := report.Validate(); err != nil {
		return nil, err
	}
	rec := &incident.Record{
		ID:        ulid.Make().String(),
		Report:    report,
		Status:    incident.StatusPending,
		CreatedAt: l.now().UTC(),
	}
	if err := l.store.Append(ctx, rec); err != nil {
		return nil, fmt.Errorf("append incident: %w", err)
	}
	return rec, nil
}

// Decide finalizes a pending record. status must be verified or rejected.
func (l *Ledger) Decide(ctx context.Context, id string, status incident.VerificationStatus) error {
	if status != incident.StatusVerified && status != incident.StatusRejected {
		return fmt.Errorf("invalid final status %q", status)
	}
	return l.store.SetStatus(ctx, id, status, l.now().UTC())
}

// Get retrieves a record by ID. Returns incident.ErrNotFound when absent.
func (l *Ledger) Get(ctx context.Context, id string) (*incident.Record, error) {
	rec, ok, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, incident.ErrNotFound
	}
	return rec, nil
}

// List returns up to limit records, newest first.
func (l *Ledger) List(ctx context.Context, limit int) ([]incident.Record, error) {
	return l.store.List(ctx, limit)
}

// Active returns verified records no older than the given window.
func (l *Ledger) Active(ctx context.Context, window time.Duration) ([]incident.Record, error) {
	return l.store.ListVerifiedSince(ctx, l.now().UTC().Add(-window))
}
