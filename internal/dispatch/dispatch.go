// Package dispatch fans a verified incident out to matched recipients while
// guaranteeing at-most-once delivery per (incident, recipient, channel).
//
// Deduplication is reservation based: a delivery slot is claimed in the
// store before the send, so a crashed or repeated dispatch can never double
// deliver. Failed sends are recorded and never retried automatically;
// Redeliver is the explicit retry operation and re-attempts failed slots
// only, keeping the incident identity and the sent slots intact.
package dispatch

import (
	"context"
	"errors"
	"flag"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/go-core/log"

	"github.com/mkaumee/Alert.Ai/internal/geo"
	"github.com/mkaumee/Alert.Ai/internal/incident"
	"github.com/mkaumee/Alert.Ai/internal/recipients"
)

// Notification is the payload handed to a channel for one recipient.
type Notification struct {
	Incident incident.Record
	Meters   float64 // recipient's distance from the incident
}

// Channel delivers notifications over one transport. Send must respect ctx
// and return an error only for this recipient's delivery.
type Channel interface {
	Name() string
	Send(ctx context.Context, r recipients.Recipient, n Notification) error
}

// Delivery is one append-once dedup record.
type Delivery struct {
	IncidentID  string    `json:"incident_id"`
	RecipientID string    `json:"recipient_id"`
	Channel     string    `json:"channel"`
	OK          bool      `json:"ok"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

// Store persists delivery reservations and outcomes.
type Store interface {
	// Reserve claims the (incident, recipient, channel) slot. Returns false
	// when the slot was already claimed.
	Reserve(ctx context.Context, incidentID, recipientID, channel string, at time.Time) (bool, error)

	// Record writes the outcome of a previously reserved slot.
	Record(ctx context.Context, d Delivery) error

	// List returns the deliveries recorded for an incident.
	List(ctx context.Context, incidentID string) ([]Delivery, error)
}

// Status summarizes one delivery attempt in a dispatch result.
type Status string

const (
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusDuplicate Status = "duplicate"
)

// Result is the outcome of one (recipient, channel) pair. For duplicates, At
// and Error reflect the previously recorded delivery, so a repeat dispatch
// hands back the existing records rather than bare markers.
type Result struct {
	RecipientID string    `json:"recipient_id"`
	Channel     string    `json:"channel"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
	Meters      float64   `json:"meters"`
	At          time.Time `json:"at,omitzero"`
}

// Config holds dispatcher settings.
type Config struct {
	SendTimeout   time.Duration
	MaxConcurrent int
}

// RegisterFlags registers dispatcher flags on the given FlagSet.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.DurationVar(&c.SendTimeout, "dispatch-send-timeout", 10*time.Second, "Deadline for a single channel send.")
	fs.IntVar(&c.MaxConcurrent, "dispatch-max-concurrent", 16, "Upper bound on parallel channel sends.")
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.SendTimeout <= 0 {
		errs = append(errs, errors.New("dispatch-send-timeout must be positive"))
	}
	if c.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("dispatch-max-concurrent must be positive"))
	}
	return errors.Join(errs...)
}

// Dispatcher fans incidents out across channels with per-slot dedup.
type Dispatcher struct {
	store    Store
	channels map[string]Channel
	cfg      Config
	log      log.Logger
	now      func() time.Time
}

// New returns a Dispatcher over the given channels.
func New(store Store, channels []Channel, cfg Config, l log.Logger) *Dispatcher {
	if l == nil {
		l = log.Nop()
	}
	byName := make(map[string]Channel, len(channels))
	for _, ch := range channels {
		byName[ch.Name()] = ch
	}
	return &Dispatcher{store: store, channels: byName, cfg: cfg, log: l, now: time.Now}
}

// WithClock overrides the time source. For tests.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Dispatch delivers the incident to every matched recipient over every
// channel that recipient accepts. Sends run in parallel and fail
// independently; one broken channel or recipient never blocks the rest.
// The returned results cover every attempted slot; slots recorded by an
// earlier dispatch come back as duplicates carrying the recorded outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, rec *incident.Record, matches []geo.Match) ([]Result, error) {
	prior, err := d.recorded(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	return d.run(ctx, rec, matches, prior, false)
}

// Redeliver re-attempts the failed slots of a previously dispatched incident.
// Sent slots stay untouched and report as duplicates; slots never attempted
// (a recipient registered since the first dispatch) are attempted fresh.
func (d *Dispatcher) Redeliver(ctx context.Context, rec *incident.Record, matches []geo.Match) ([]Result, error) {
	prior, err := d.recorded(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	return d.run(ctx, rec, matches, prior, true)
}

func (d *Dispatcher) recorded(ctx context.Context, incidentID string) (map[slotKey]Delivery, error) {
	deliveries, err := d.store.List(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	prior := make(map[slotKey]Delivery, len(deliveries))
	for _, del := range deliveries {
		prior[slotKey{del.RecipientID, del.Channel}] = del
	}
	return prior, nil
}

type slotKey struct {
	recipientID string
	channel     string
}

func (d *Dispatcher) run(ctx context.Context, rec *incident.Record, matches []geo.Match, prior map[slotKey]Delivery, retryFailed bool) ([]Result, error) {
	type slot struct {
		match   geo.Match
		channel Channel
	}
	var slots []slot
	for _, m := range matches {
		for _, chName := range m.Recipient.Channels {
			ch, ok := d.channels[string(chName)]
			if !ok {
				d.log.Warn(ctx, "recipient wants unconfigured channel",
					"recipient_id", m.Recipient.ID,
					"channel", string(chName),
				)
				continue
			}
			slots = append(slots, slot{match: m, channel: ch})
		}
	}

	results := make([]Result, len(slots))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.MaxConcurrent)
	for i, sl := range slots {
		g.Go(func() error {
			res := d.deliver(gctx, rec, sl.match, sl.channel, prior, retryFailed)
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func (d *Dispatcher) deliver(ctx context.Context, rec *incident.Record, m geo.Match, ch Channel, prior map[slotKey]Delivery, retryFailed bool) Result {
	res := Result{RecipientID: m.Recipient.ID, Channel: ch.Name(), Meters: m.Meters}

	if del, ok := prior[slotKey{m.Recipient.ID, ch.Name()}]; ok {
		if !del.OK && retryFailed {
			// The slot is already claimed with a failed outcome; re-send and
			// overwrite the record.
			return d.send(ctx, rec, m, ch, res)
		}
		res.Status = StatusDuplicate
		res.Error = del.Error
		res.At = del.At
		return res
	}

	claimed, err := d.store.Reserve(ctx, rec.ID, m.Recipient.ID, ch.Name(), d.now().UTC())
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		d.log.Error(ctx, err, "reserve delivery slot",
			"incident_id", rec.ID,
			"recipient_id", m.Recipient.ID,
			"channel", ch.Name(),
		)
		return res
	}
	if !claimed {
		res.Status = StatusDuplicate
		return res
	}

	return d.send(ctx, rec, m, ch, res)
}

func (d *Dispatcher) send(ctx context.Context, rec *incident.Record, m geo.Match, ch Channel, res Result) Result {
	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()
	sendErr := ch.Send(sendCtx, m.Recipient, Notification{Incident: *rec, Meters: m.Meters})

	delivery := Delivery{
		IncidentID:  rec.ID,
		RecipientID: m.Recipient.ID,
		Channel:     ch.Name(),
		OK:          sendErr == nil,
		At:          d.now().UTC(),
	}
	res.At = delivery.At
	if sendErr != nil {
		delivery.Error = sendErr.Error()
		res.Status = StatusFailed
		res.Error = sendErr.Error()
		d.log.Error(ctx, sendErr, "delivery failed",
			"incident_id", rec.ID,
			"recipient_id", m.Recipient.ID,
			"channel", ch.Name(),
		)
	} else {
		res.Status = StatusSent
	}

	if err := d.store.Record(ctx, delivery); err != nil {
		d.log.Error(ctx, err, "record delivery outcome",
			"incident_id", rec.ID,
			"recipient_id", m.Recipient.ID,
			"channel", ch.Name(),
		)
	}
	return res
}

// Deliveries returns the recorded deliveries for an incident.
func (d *Dispatcher) Deliveries(ctx context.Context, incidentID string) ([]Delivery, error) {
	return d.store.List(ctx, incidentID)
}

// AllSent reports whether every attempted slot in results went out.
// Duplicates count as sent; they were delivered previously.
func AllSent(results []Result) bool {
	for _, r := range results {
		if r.Status == StatusFailed {
			return false
		}
	}
	return true
}
