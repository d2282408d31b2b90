// Package confirm debounces raw detection samples into confirmed emergency
// episodes.
//
// Each source runs an independent state machine: a sample at or above the
// confidence threshold opens a candidate episode, sustained confidence for
// the confirmation window confirms it and emits exactly one report, and a
// cooldown then suppresses further emissions from that source. The machine
// is driven entirely by sample timestamps; cooldown expiry is evaluated
// lazily on the next sample rather than by a timer.
package confirm

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/mkaumee/Alert.Ai/internal/incident"
)

// State names a source's position in the episode lifecycle.
type State string

const (
	StateIdle      State = "idle"
	StateCandidate State = "candidate"
	StateConfirmed State = "confirmed"
	StateCooldown  State = "cooldown"
)

// Config holds confirmation thresholds and windows.
type Config struct {
	Threshold    float64
	Confirmation time.Duration
	Cooldown     time.Duration
}

// RegisterFlags registers confirmation flags on the given FlagSet.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.Float64Var(&c.Threshold, "confirm-threshold", 0.80, "Minimum detection confidence to open or sustain an episode.")
	fs.DurationVar(&c.Confirmation, "confirm-window", 5*time.Second, "How long confidence must stay above the threshold before a report is emitted.")
	fs.DurationVar(&c.Cooldown, "confirm-cooldown", 300*time.Second, "Suppression window per source after an emission.")
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.Threshold <= 0 || c.Threshold > 1 {
		errs = append(errs, errors.New("confirm-threshold must be in (0, 1]"))
	}
	if c.Confirmation <= 0 {
		errs = append(errs, errors.New("confirm-window must be positive"))
	}
	if c.Cooldown <= 0 {
		errs = append(errs, errors.New("confirm-cooldown must be positive"))
	}
	return errors.Join(errs...)
}

// Emission is one confirmed episode's report, emitted exactly once per
// episode. Retry marks a manual re-delivery of a previously emitted report.
type Emission struct {
	Report incident.Report
	Retry  bool
}

// Snapshot is a read-only view of one source's machine, for API responses
// and audit.
type Snapshot struct {
	SourceID          string    `json:"source_id"`
	State             State     `json:"state"`
	CandidateSince    time.Time `json:"candidate_since,omitempty"`
	CooldownUntil     time.Time `json:"cooldown_until,omitempty"`
	Delivered         bool      `json:"delivered"`
	SuppressedSamples int       `json:"suppressed_samples"`
}

type sourceState struct {
	state          State
	candidateSince time.Time
	cooldownUntil  time.Time
	delivered      bool
	suppressed     int
	lastReport     *incident.Report
}

// Machine runs the per-source confirmation state machines.
type Machine struct {
	cfg Config
	log log.Logger

	mu      sync.Mutex
	sources map[string]*sourceState
}

// New returns a Machine with the given thresholds.
func New(cfg Config, l log.Logger) *Machine {
	if l == nil {
		l = log.Nop()
	}
	return &Machine{cfg: cfg, log: l, sources: make(map[string]*sourceState)}
}

// Offer feeds one sample into its source's machine. A non-nil Emission means
// the episode just confirmed and the report must be pushed through the
// pipeline; the caller reports the outcome via MarkDelivered.
func (m *Machine) Offer(ctx context.Context, sample incident.Sample) (*Emission, Snapshot, error) {
	if sample.SourceID == "" {
		return nil, Snapshot{}, &incident.ValidationError{Field: "source_id", Reason: "required"}
	}
	if sample.Confidence < 0 || sample.Confidence > 1 {
		return nil, Snapshot{}, &incident.ValidationError{Field: "confidence", Reason: "must be in [0, 1]"}
	}
	if sample.ObservedAt.IsZero() {
		return nil, Snapshot{}, &incident.ValidationError{Field: "observed_at", Reason: "required"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.sources[sample.SourceID]
	if st == nil {
		st = &sourceState{state: StateIdle}
		m.sources[sample.SourceID] = st
	}

	// Lazy cooldown expiry.
	if (st.state == StateCooldown || st.state == StateConfirmed) && !sample.ObservedAt.Before(st.cooldownUntil) {
		st.state = StateIdle
		st.candidateSince = time.Time{}
		st.cooldownUntil = time.Time{}
	}

	switch st.state {
	case StateCooldown, StateConfirmed:
		if sample.Confidence >= m.cfg.Threshold {
			st.suppressed++
			m.log.Info(ctx, "sample suppressed during cooldown",
				"source_id", sample.SourceID,
				"confidence", sample.Confidence,
				"cooldown_until", st.cooldownUntil,
			)
		}
		return nil, m.snapshotLocked(sample.SourceID, st), nil

	case StateIdle:
		if sample.Confidence >= m.cfg.Threshold {
			st.state = StateCandidate
			st.candidateSince = sample.ObservedAt
		}
		return nil, m.snapshotLocked(sample.SourceID, st), nil

	case StateCandidate:
		if sample.Confidence < m.cfg.Threshold {
			st.state = StateIdle
			st.candidateSince = time.Time{}
			return nil, m.snapshotLocked(sample.SourceID, st), nil
		}
		if sample.ObservedAt.Sub(st.candidateSince) >= m.cfg.Confirmation {
			report := sample.Report()
			st.state = StateConfirmed
			st.candidateSince = time.Time{}
			st.cooldownUntil = sample.ObservedAt.Add(m.cfg.Cooldown)
			st.delivered = false
			st.lastReport = &report
			m.log.Info(ctx, "episode confirmed",
				"source_id", sample.SourceID,
				"emergency_type", string(sample.Type),
				"confidence", sample.Confidence,
			)
			return &Emission{Report: report}, m.snapshotLocked(sample.SourceID, st), nil
		}
		return nil, m.snapshotLocked(sample.SourceID, st), nil
	}

	return nil, m.snapshotLocked(sample.SourceID, st), nil
}

// MarkDelivered records the delivery outcome of the last emission. The
// cooldown stands either way; a failed delivery only keeps Retry armed.
func (m *Machine) MarkDelivered(sourceID string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.sources[sourceID]
	if st == nil || (st.state != StateConfirmed && st.state != StateCooldown) {
		return
	}
	st.state = StateCooldown
	st.delivered = ok
}

// Reset forces a source back to idle, clearing its cooldown and episode
// history. Manual recovery for a stuck or misbehaving source.
func (m *Machine) Reset(ctx context.Context, sourceID string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.sources[sourceID]
	if st == nil {
		return Snapshot{}, incident.ErrNotFound
	}
	*st = sourceState{state: StateIdle}
	m.log.Info(ctx, "source reset", "source_id", sourceID)
	return m.snapshotLocked(sourceID, st), nil
}

// Retry re-emits the last confirmed report of a source whose delivery
// failed. A delivered episode is a suppressed duplicate, not an error to fix.
// Retry never extends or restarts the cooldown.
func (m *Machine) Retry(ctx context.Context, sourceID string) (*Emission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.sources[sourceID]
	if st == nil || st.lastReport == nil {
		return nil, incident.ErrNotFound
	}
	if st.delivered {
		return nil, fmt.Errorf("last report for %s already delivered: %w", sourceID, incident.ErrDuplicateSuppressed)
	}
	m.log.Info(ctx, "retrying failed delivery", "source_id", sourceID)
	report := *st.lastReport
	return &Emission{Report: report, Retry: true}, nil
}

// Snapshot returns the current view of one source. ok is false for a source
// that never produced a sample.
func (m *Machine) Snapshot(sourceID string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.sources[sourceID]
	if st == nil {
		return Snapshot{}, false
	}
	return m.snapshotLocked(sourceID, st), true
}

func (m *Machine) snapshotLocked(sourceID string, st *sourceState) Snapshot {
	return Snapshot{
		SourceID:          sourceID,
		State:             st.state,
		CandidateSince:    st.candidateSince,
		CooldownUntil:     st.cooldownUntil,
		Delivered:         st.delivered,
		SuppressedSamples: st.suppressed,
	}
}
