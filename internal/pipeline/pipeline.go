// Package pipeline orchestrates the path from accepted report to delivered
// notification: append to the ledger, verify, finalize status, match
// recipients, dispatch.
package pipeline

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/mkaumee/Alert.Ai/internal/confirm"
	"github.com/mkaumee/Alert.Ai/internal/dispatch"
	"github.com/mkaumee/Alert.Ai/internal/geo"
	"github.com/mkaumee/Alert.Ai/internal/incident"
	"github.com/mkaumee/Alert.Ai/internal/ledger"
	"github.com/mkaumee/Alert.Ai/internal/recipients"
	"github.com/mkaumee/Alert.Ai/internal/verify"
)

// Config holds pipeline-level settings.
type Config struct {
	RadiusMeters float64
}

// RegisterFlags registers pipeline flags on the given FlagSet.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.Float64Var(&c.RadiusMeters, "match-radius", 100, "Notification radius around an incident in meters.")
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.RadiusMeters <= 0 {
		return errors.New("match-radius must be positive")
	}
	return nil
}

// Summary is the synchronous result of one pipeline run.
type Summary struct {
	Incident     incident.Record   `json:"incident"`
	OracleFailed bool              `json:"oracle_failed,omitempty"`
	Matched      int               `json:"matched_recipients"`
	Results      []dispatch.Result `json:"deliveries,omitempty"`
	Delivered    bool              `json:"delivered"`
}

// Pipeline wires the ledger, gate, matcher, and dispatcher together.
type Pipeline struct {
	ledger     *ledger.Ledger
	gate       *verify.Gate
	machine    *confirm.Machine
	recipients recipients.Store
	dispatcher *dispatch.Dispatcher
	cfg        Config
	metrics    *Metrics
	log        log.Logger

	mu            sync.Mutex
	inFlight      map[string]*incidentLock // incident ID -> run lock
	lastConfirmed map[string]string        // source ID -> incident ID of the last confirmed episode
}

// incidentLock is a refcounted per-incident mutex. The refcount keeps the
// map entry alive until the last holder releases, so every concurrent run
// for an incident queues behind the same mutex.
type incidentLock struct {
	mu   sync.Mutex
	refs int
}

// New assembles a Pipeline.
func New(l *ledger.Ledger, gate *verify.Gate, machine *confirm.Machine, recs recipients.Store, d *dispatch.Dispatcher, cfg Config, m *Metrics, lg log.Logger) *Pipeline {
	if lg == nil {
		lg = log.Nop()
	}
	return &Pipeline{
		ledger:        l,
		gate:          gate,
		machine:       machine,
		recipients:    recs,
		dispatcher:    d,
		cfg:           cfg,
		metrics:       m,
		log:           lg,
		inFlight:      make(map[string]*incidentLock),
		lastConfirmed: make(map[string]string),
	}
}

// Process runs one report through the full pipeline. Validation failures
// surface as errors before anything is written; everything past the append is
// reflected in the Summary, so no accepted report leaves the ledger pending.
func (p *Pipeline) Process(ctx context.Context, report incident.Report) (*Summary, error) {
	start := time.Now()

	rec, err := p.ledger.Append(ctx, report)
	if err != nil {
		if incident.IsValidation(err) && p.metrics != nil {
			p.metrics.ReportsTotal.WithLabelValues("invalid").Inc()
		}
		return nil, err
	}

	unlock := p.lockIncident(rec.ID)
	defer unlock()

	status, verifyErr := p.gate.Verify(ctx, rec.Report)
	oracleFailed := verify.IsOracleFailure(verifyErr)

	if err := p.ledger.Decide(ctx, rec.ID, status); err != nil {
		return nil, fmt.Errorf("finalize incident %s: %w", rec.ID, err)
	}
	rec.Status = status

	if p.metrics != nil {
		p.metrics.ReportsTotal.WithLabelValues(string(status)).Inc()
		if oracleFailed {
			p.metrics.OracleFailuresTotal.Inc()
		}
	}

	summary := &Summary{Incident: *rec, OracleFailed: oracleFailed, Delivered: true}
	if status != incident.StatusVerified {
		p.log.Info(ctx, "incident rejected",
			"incident_id", rec.ID,
			"emergency_type", string(rec.Report.Type),
			"oracle_failed", oracleFailed,
		)
		p.observeDuration(start)
		return summary, nil
	}

	all, err := p.recipients.List(ctx)
	if err != nil {
		return summary, fmt.Errorf("list recipients: %w", err)
	}
	matches := geo.Nearby(rec.Report.Location, all, p.cfg.RadiusMeters)
	summary.Matched = len(matches)
	if p.metrics != nil {
		p.metrics.MatchedRecipients.Observe(float64(len(matches)))
	}

	results, err := p.dispatcher.Dispatch(ctx, rec, matches)
	if err != nil {
		return summary, fmt.Errorf("dispatch incident %s: %w", rec.ID, err)
	}
	summary.Results = results
	summary.Delivered = dispatch.AllSent(results)

	if p.metrics != nil {
		for _, r := range results {
			p.metrics.DeliveriesTotal.WithLabelValues(r.Channel, string(r.Status)).Inc()
		}
	}

	p.log.Info(ctx, "incident dispatched",
		"incident_id", rec.ID,
		"emergency_type", string(rec.Report.Type),
		"matched", len(matches),
		"delivered", summary.Delivered,
	)
	p.observeDuration(start)
	return summary, nil
}

// Ingest feeds one detection sample through the confirmation machine and, on
// a confirmed episode, runs the emitted report through the pipeline. The
// delivery outcome is reported back to the machine so manual retry stays
// armed after a failed delivery.
func (p *Pipeline) Ingest(ctx context.Context, sample incident.Sample) (confirm.Snapshot, *Summary, error) {
	emission, snap, err := p.machine.Offer(ctx, sample)
	if err != nil {
		return snap, nil, err
	}
	if p.metrics != nil {
		p.metrics.SamplesTotal.WithLabelValues(string(snap.State)).Inc()
	}
	if emission == nil {
		return snap, nil, nil
	}
	summary, err := p.runEmission(ctx, emission)
	if err != nil {
		return snap, nil, err
	}
	if updated, ok := p.machine.Snapshot(sample.SourceID); ok {
		snap = updated
	}
	return snap, summary, nil
}

// RetrySource re-attempts delivery of a source's last emitted report. The
// incident keeps its identity: only failed slots are re-sent. The source's
// cooldown is untouched, and a source whose last delivery succeeded reports
// ErrDuplicateSuppressed.
func (p *Pipeline) RetrySource(ctx context.Context, sourceID string) (*Summary, error) {
	emission, err := p.machine.Retry(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	return p.runEmission(ctx, emission)
}

// ResetSource forces a source back to idle.
func (p *Pipeline) ResetSource(ctx context.Context, sourceID string) (confirm.Snapshot, error) {
	return p.machine.Reset(ctx, sourceID)
}

// SourceState returns the snapshot of one source's machine.
func (p *Pipeline) SourceState(sourceID string) (confirm.Snapshot, bool) {
	return p.machine.Snapshot(sourceID)
}

func (p *Pipeline) runEmission(ctx context.Context, emission *confirm.Emission) (*Summary, error) {
	sourceID := emission.Report.SourceID

	if emission.Retry {
		if id, ok := p.confirmedIncident(sourceID); ok {
			summary, err := p.redeliver(ctx, id)
			if err != nil {
				p.machine.MarkDelivered(sourceID, false)
				return nil, err
			}
			p.machine.MarkDelivered(sourceID, summary.Delivered)
			return summary, nil
		}
		// The first attempt failed before an incident was appended; this
		// run mints the only identity the episode will have.
	}

	summary, err := p.Process(ctx, emission.Report)
	if err != nil {
		p.machine.MarkDelivered(sourceID, false)
		return nil, err
	}
	p.setConfirmedIncident(sourceID, summary.Incident.ID)
	// A rejected incident leaves nothing to deliver; the episode is done
	// either way and only a delivery failure keeps retry armed.
	p.machine.MarkDelivered(sourceID, summary.Delivered)
	return summary, nil
}

// redeliver re-runs matching and dispatch for an existing incident. Sent
// slots are left alone; failed ones get one more attempt.
func (p *Pipeline) redeliver(ctx context.Context, incidentID string) (*Summary, error) {
	start := time.Now()
	unlock := p.lockIncident(incidentID)
	defer unlock()

	rec, err := p.ledger.Get(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	summary := &Summary{Incident: *rec, Delivered: true}
	if rec.Status != incident.StatusVerified {
		return summary, nil
	}

	all, err := p.recipients.List(ctx)
	if err != nil {
		return summary, fmt.Errorf("list recipients: %w", err)
	}
	matches := geo.Nearby(rec.Report.Location, all, p.cfg.RadiusMeters)
	summary.Matched = len(matches)

	results, err := p.dispatcher.Redeliver(ctx, rec, matches)
	if err != nil {
		return summary, fmt.Errorf("redeliver incident %s: %w", rec.ID, err)
	}
	summary.Results = results
	summary.Delivered = dispatch.AllSent(results)

	if p.metrics != nil {
		for _, r := range results {
			p.metrics.DeliveriesTotal.WithLabelValues(r.Channel, string(r.Status)).Inc()
		}
	}

	p.log.Info(ctx, "incident redelivered",
		"incident_id", rec.ID,
		"matched", len(matches),
		"delivered", summary.Delivered,
	)
	p.observeDuration(start)
	return summary, nil
}

func (p *Pipeline) confirmedIncident(sourceID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.lastConfirmed[sourceID]
	return id, ok
}

func (p *Pipeline) setConfirmedIncident(sourceID, incidentID string) {
	if sourceID == "" {
		return
	}
	p.mu.Lock()
	p.lastConfirmed[sourceID] = incidentID
	p.mu.Unlock()
}

func (p *Pipeline) observeDuration(start time.Time) {
	if p.metrics != nil {
		p.metrics.PipelineDuration.Observe(time.Since(start).Seconds())
	}
}

// lockIncident serializes runs per incident ID. The entry is removed only
// when the last holder releases; deleting while a waiter is still queued
// would let a later caller mint a second mutex for the same incident.
func (p *Pipeline) lockIncident(id string) func() {
	p.mu.Lock()
	l, ok := p.inFlight[id]
	if !ok {
		l = &incidentLock{}
		p.inFlight[id] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.inFlight, id)
		}
		p.mu.Unlock()
	}
}
