package confirm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mkaumee/Alert.Ai/internal/incident"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{Threshold: 0.80, Confirmation: 5 * time.Second, Cooldown: 300 * time.Second}
}

func sampleAt(source string, confidence float64, offset time.Duration) incident.Sample {
	return incident.Sample{
		SourceID:    source,
		Type:        incident.TypeFire,
		Confidence:  confidence,
		EvidenceRef: "frames/" + source + "/latest.jpg",
		ObservedAt:  epoch.Add(offset),
		Location:    incident.Location{Lat: 11.8490, Lon: 13.0568},
		Site:        "warehouse-a",
	}
}

func offer(t *testing.T, m *Machine, s incident.Sample) (*Emission, Snapshot) {
	t.Helper()
	em, snap, err := m.Offer(context.Background(), s)
	if err != nil {
		t.Fatalf("Offer: %v", err)
	}
	return em, snap
}

func TestOffer_ConfirmsAfterSustainedConfidence(t *testing.T) {
	t.Parallel()

	m := New(testConfig(), nil)

	// Seconds 0 through 4: above threshold, but the window is not full yet.
	for i := range 5 {
		em, snap := offer(t, m, sampleAt("cam-1", 0.91, time.Duration(i)*time.Second))
		if em != nil {
			t.Fatalf("emission at t=%ds, want none before the window closes", i)
		}
		if snap.State != StateCandidate {
			t.Fatalf("state at t=%ds = %q, want candidate", i, snap.State)
		}
	}

	// Second 5: window complete, exactly one emission.
	em, snap := offer(t, m, sampleAt("cam-1", 0.93, 5*time.Second))
	if em == nil {
		t.Fatal("expected emission at t=5s")
	}
	if em.Retry {
		t.Error("first emission must not be marked as retry")
	}
	if em.Report.Type != incident.TypeFire || em.Report.SourceID != "cam-1" {
		t.Errorf("emission report = %+v", em.Report)
	}
	if snap.State != StateConfirmed {
		t.Errorf("state after emission = %q, want confirmed", snap.State)
	}
}

func TestOffer_DipBelowThresholdAborts(t *testing.T) {
	t.Parallel()

	m := New(testConfig(), nil)

	offer(t, m, sampleAt("cam-1", 0.85, 0))
	_, snap := offer(t, m, sampleAt("cam-1", 0.40, 2*time.Second))
	if snap.State != StateIdle {
		t.Fatalf("state after dip = %q, want idle", snap.State)
	}

	// The clock starts over: 3 more seconds above threshold is not enough.
	offer(t, m, sampleAt("cam-1", 0.90, 3*time.Second))
	em, _ := offer(t, m, sampleAt("cam-1", 0.90, 6*time.Second))
	if em != nil {
		t.Error("aborted episode must not carry its elapsed time forward")
	}

	// A full window from the restart does confirm.
	em, _ = offer(t, m, sampleAt("cam-1", 0.90, 8*time.Second))
	if em == nil {
		t.Error("expected emission once the window is full again")
	}
}

func TestOffer_CooldownSuppresses(t *testing.T) {
	t.Parallel()

	m := New(testConfig(), nil)
	confirmEpisode(t, m, "cam-1", 0)
	m.MarkDelivered("cam-1", true)

	// High-confidence samples during cooldown are audited, never emitted.
	em, snap := offer(t, m, sampleAt("cam-1", 0.99, 60*time.Second))
	if em != nil {
		t.Fatal("emission during cooldown")
	}
	if snap.State != StateCooldown {
		t.Errorf("state = %q, want cooldown", snap.State)
	}
	if snap.SuppressedSamples != 1 {
		t.Errorf("suppressed samples = %d, want 1", snap.SuppressedSamples)
	}
}

func TestOffer_CooldownExpiresLazily(t *testing.T) {
	t.Parallel()

	m := New(testConfig(), nil)
	confirmEpisode(t, m, "cam-1", 0)
	m.MarkDelivered("cam-1", true)

	// Cooldown runs from the confirming sample at t=5s, so it ends at t=305s.
	_, snap := offer(t, m, sampleAt("cam-1", 0.90, 305*time.Second))
	if snap.State != StateCandidate {
		t.Fatalf("state after cooldown expiry = %q, want candidate", snap.State)
	}

	em, _ := offer(t, m, sampleAt("cam-1", 0.90, 310*time.Second))
	if em == nil {
		t.Error("expected a fresh episode to confirm after cooldown expiry")
	}
}

func TestOffer_SourcesAreIndependent(t *testing.T) {
	t.Parallel()

	m := New(testConfig(), nil)
	confirmEpisode(t, m, "cam-1", 0)
	m.MarkDelivered("cam-1", true)

	// cam-1 in cooldown must not affect cam-2.
	for i := range 5 {
		offer(t, m, sampleAt("cam-2", 0.88, time.Duration(10+i)*time.Second))
	}
	em, _ := offer(t, m, sampleAt("cam-2", 0.88, 15*time.Second))
	if em == nil {
		t.Error("cam-2 must confirm independently of cam-1's cooldown")
	}
}

func TestOffer_ValidatesSample(t *testing.T) {
	t.Parallel()

	m := New(testConfig(), nil)

	tests := []struct {
		name   string
		sample incident.Sample
	}{
		{"missing source", incident.Sample{Confidence: 0.9, ObservedAt: epoch}},
		{"confidence above one", incident.Sample{SourceID: "cam-1", Confidence: 1.5, ObservedAt: epoch}},
		{"negative confidence", incident.Sample{SourceID: "cam-1", Confidence: -0.1, ObservedAt: epoch}},
		{"missing timestamp", incident.Sample{SourceID: "cam-1", Confidence: 0.9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := m.Offer(context.Background(), tt.sample)
			if !incident.IsValidation(err) {
				t.Errorf("Offer(%s) err = %v, want ValidationError", tt.name, err)
			}
		})
	}
}

func TestRetry_AfterFailedDelivery(t *testing.T) {
	t.Parallel()

	m := New(testConfig(), nil)
	first := confirmEpisode(t, m, "cam-1", 0)
	m.MarkDelivered("cam-1", false)

	em, err := m.Retry(context.Background(), "cam-1")
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if !em.Retry {
		t.Error("retry emission must be flagged as retry")
	}
	if em.Report != first.Report {
		t.Errorf("retry must re-deliver the same report, got %+v want %+v", em.Report, first.Report)
	}

	// Cooldown is untouched by the retry.
	if snap, _ := m.Snapshot("cam-1"); snap.State != StateCooldown {
		t.Errorf("state after retry = %q, want cooldown", snap.State)
	}
}

func TestRetry_DeliveredIsSuppressed(t *testing.T) {
	t.Parallel()

	m := New(testConfig(), nil)
	confirmEpisode(t, m, "cam-1", 0)
	m.MarkDelivered("cam-1", true)

	_, err := m.Retry(context.Background(), "cam-1")
	if !errors.Is(err, incident.ErrDuplicateSuppressed) {
		t.Fatalf("Retry after delivery = %v, want ErrDuplicateSuppressed", err)
	}
}

func TestRetry_UnknownSource(t *testing.T) {
	t.Parallel()

	m := New(testConfig(), nil)
	if _, err := m.Retry(context.Background(), "ghost"); !errors.Is(err, incident.ErrNotFound) {
		t.Fatalf("Retry unknown source = %v, want ErrNotFound", err)
	}
}

func TestReset_ClearsCooldown(t *testing.T) {
	t.Parallel()

	m := New(testConfig(), nil)
	confirmEpisode(t, m, "cam-1", 0)
	m.MarkDelivered("cam-1", true)

	snap, err := m.Reset(context.Background(), "cam-1")
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if snap.State != StateIdle {
		t.Errorf("state after reset = %q, want idle", snap.State)
	}

	// A new episode can confirm immediately after reset.
	em := confirmEpisode(t, m, "cam-1", 20*time.Second)
	if em == nil {
		t.Error("expected a new episode to confirm after reset")
	}
}

func TestReset_UnknownSource(t *testing.T) {
	t.Parallel()

	m := New(testConfig(), nil)
	if _, err := m.Reset(context.Background(), "ghost"); !errors.Is(err, incident.ErrNotFound) {
		t.Fatalf("Reset unknown source = %v, want ErrNotFound", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config: %v", err)
	}
	bad := Config{Threshold: 1.5}
	if err := bad.Validate(); err == nil {
		t.Error("invalid config must fail validation")
	}
}

// confirmEpisode drives a source through a full confirmation window starting
// at the given offset and returns the emission.
func confirmEpisode(t *testing.T, m *Machine, source string, start time.Duration) *Emission {
	t.Helper()
	for i := range 5 {
		offer(t, m, sampleAt(source, 0.90, start+time.Duration(i)*time.Second))
	}
	em, _ := offer(t, m, sampleAt(source, 0.90, start+5*time.Second))
	if em == nil {
		t.Fatalf("source %s did not confirm", source)
	}
	return em
}
