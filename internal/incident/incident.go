// Package incident defines the domain model for the emergency pipeline:
// reports, ledger records, detection samples, and the shared error taxonomy.
package incident

import (
	"errors"
	"fmt"
	"time"
)

// Type classifies what kind of emergency a report describes.
type Type string

const (
	TypeFire         Type = "fire"
	TypeSmoke        Type = "smoke"
	TypeBleeding     Type = "bleeding"
	TypeFallenPerson Type = "fallen_person"
	TypeWeaponThreat Type = "weapon_threat"
)

// Types lists every known incident type.
var Types = []Type{TypeFire, TypeSmoke, TypeBleeding, TypeFallenPerson, TypeWeaponThreat}

// Valid reports whether t is a known incident type.
func (t Type) Valid() bool {
	for _, k := range Types {
		if t == k {
			return true
		}
	}
	return false
}

// VerificationStatus tracks where an incident is in its verification lifecycle.
type VerificationStatus string

const (
	// StatusPending means appended to the ledger, not yet decided.
	StatusPending VerificationStatus = "pending"

	// StatusVerified means the verification gate approved the incident.
	StatusVerified VerificationStatus = "verified"

	// StatusRejected means the verification gate rejected the incident.
	StatusRejected VerificationStatus = "rejected"
)

// Location is a WGS84 coordinate pair.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Report is an incoming emergency report, either submitted by an external
// reporter or emitted by a confirmed detection episode. Immutable once built.
type Report struct {
	Type        Type      `json:"emergency_type"`
	Location    Location  `json:"location"`
	EvidenceRef string    `json:"evidence_ref"`
	ReportedAt  time.Time `json:"reported_at"`
	Site        string    `json:"site"`
	SubLocation string    `json:"sub_location,omitempty"` // floor/room, optional
	SourceID    string    `json:"source_id,omitempty"`    // set when emitted by a detector
}

// Record is a ledger-owned incident: a Report plus identity and verification
// state. Append-only; only VerificationStatus transitions, exactly once, away
// from pending.
type Record struct {
	ID         string             `json:"id"`
	Report     Report             `json:"report"`
	Status     VerificationStatus `json:"verification_status"`
	CreatedAt  time.Time          `json:"created_at"`
	VerifiedAt time.Time          `json:"verified_at,omitempty"`
}

// Sample is one detection reading from a single source. Ephemeral; consumed
// only by the confirmation state machine, never persisted individually. The
// report context travels with the sample so a confirmed episode can emit a
// full Report without a separate source registry lookup.
type Sample struct {
	SourceID    string    `json:"source_id"`
	Type        Type      `json:"emergency_type"`
	Confidence  float64   `json:"confidence"`
	EvidenceRef string    `json:"evidence_ref"`
	ObservedAt  time.Time `json:"observed_at"`
	Location    Location  `json:"location"`
	Site        string    `json:"site"`
	SubLocation string    `json:"sub_location,omitempty"`
}

// Report builds the emergency report a confirmed episode would emit from
// this sample.
func (s *Sample) Report() Report {
	return Report{
		Type:        s.Type,
		Location:    s.Location,
		EvidenceRef: s.EvidenceRef,
		ReportedAt:  s.ObservedAt,
		Site:        s.Site,
		SubLocation: s.SubLocation,
		SourceID:    s.SourceID,
	}
}

// Sentinel errors shared across the pipeline.
var (
	// ErrNotFound marks operations referencing an unknown incident id.
	ErrNotFound = errors.New("incident not found")

	// ErrAlreadyDecided marks an attempt to verify an incident twice.
	ErrAlreadyDecided = errors.New("incident already decided")

	// ErrDuplicateSuppressed is the expected no-op outcome when cooldown or
	// dedup blocks a repeat action. Not a failure.
	ErrDuplicateSuppressed = errors.New("duplicate suppressed")
)

// ValidationError describes a malformed report, rejected before any ledger
// write. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid report: %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks a report for the required intake fields. A missing field is
// an error, not a silent drop.
func (r *Report) Validate() error {
	if r.Type == "" {
		return &ValidationError{Field: "emergency_type", Reason: "required"}
	}
	if !r.Type.Valid() {
		return &ValidationError{Field: "emergency_type", Reason: fmt.Sprintf("unknown type %q", r.Type)}
	}
	if r.Location.Lat < -90 || r.Location.Lat > 90 {
		return &ValidationError{Field: "location.lat", Reason: "out of range"}
	}
	if r.Location.Lon < -180 || r.Location.Lon > 180 {
		return &ValidationError{Field: "location.lon", Reason: "out of range"}
	}
	if r.Location == (Location{}) {
		return &ValidationError{Field: "location", Reason: "lat and lon required"}
	}
	if r.EvidenceRef == "" {
		return &ValidationError{Field: "evidence_ref", Reason: "required"}
	}
	if r.ReportedAt.IsZero() {
		return &ValidationError{Field: "reported_at", Reason: "required"}
	}
	if r.Site == "" {
		return &ValidationError{Field: "site", Reason: "required"}
	}
	return nil
}
