package verify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mkaumee/Alert.Ai/internal/incident"
)

type fakeOracle struct {
	answer Answer
	err    error
	block  bool // ignore the answer and wait for ctx cancellation
}

func (f *fakeOracle) Assess(ctx context.Context, _ incident.Report) (Answer, error) {
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.answer, f.err
}

func testReport() incident.Report {
	return incident.Report{
		Type:        incident.TypeFire,
		Location:    incident.Location{Lat: 11.8490, Lon: 13.0568},
		EvidenceRef: "frames/cam-1/42.jpg",
		ReportedAt:  time.Now(),
		Site:        "warehouse-a",
	}
}

func TestParseAnswer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want Answer
	}{
		{"YES", AnswerPositive},
		{"Yes, this shows an active fire.", AnswerPositive},
		{"NO", AnswerNegative},
		{"No emergency visible.", AnswerNegative},
		{"Yes and no, hard to tell.", AnswerAmbiguous},
		{"unclear", AnswerAmbiguous},
		{"", AnswerAmbiguous},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()
			if got := ParseAnswer(tt.text); got != tt.want {
				t.Errorf("ParseAnswer(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestVerify_Answers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		answer Answer
		want   incident.VerificationStatus
	}{
		{"positive verifies", AnswerPositive, incident.StatusVerified},
		{"negative rejects", AnswerNegative, incident.StatusRejected},
		{"ambiguous rejects", AnswerAmbiguous, incident.StatusRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := New(&fakeOracle{answer: tt.answer}, Config{Timeout: time.Second}, nil)
			got, err := g.Verify(context.Background(), testReport())
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if got != tt.want {
				t.Errorf("Verify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestVerify_OracleErrorFailClosed(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	g := New(&fakeOracle{err: boom}, Config{Timeout: time.Second}, nil)

	got, err := g.Verify(context.Background(), testReport())
	if got != incident.StatusRejected {
		t.Errorf("Verify() = %q, want rejected under fail-closed", got)
	}
	if !IsOracleFailure(err) {
		t.Fatalf("err = %v, want OracleFailure", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("OracleFailure must wrap the underlying error, got %v", err)
	}
}

func TestVerify_OracleErrorFailOpen(t *testing.T) {
	t.Parallel()

	g := New(&fakeOracle{err: errors.New("timeout")}, Config{Timeout: time.Second, FailOpen: true}, nil)

	got, err := g.Verify(context.Background(), testReport())
	if got != incident.StatusVerified {
		t.Errorf("Verify() = %q, want verified under fail-open", got)
	}
	if !IsOracleFailure(err) {
		t.Errorf("fail-open must still surface the OracleFailure, got %v", err)
	}
}

func TestVerify_Timeout(t *testing.T) {
	t.Parallel()

	g := New(&fakeOracle{block: true}, Config{Timeout: 20 * time.Millisecond}, nil)

	start := time.Now()
	got, err := g.Verify(context.Background(), testReport())
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Verify blocked for %v, timeout not applied", elapsed)
	}
	if got != incident.StatusRejected {
		t.Errorf("Verify() = %q, want rejected on timeout", got)
	}
	if !IsOracleFailure(err) {
		t.Errorf("timeout must surface as OracleFailure, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	if err := (&Config{Timeout: time.Second}).Validate(); err != nil {
		t.Errorf("valid config: %v", err)
	}
	if err := (&Config{}).Validate(); err == nil {
		t.Error("zero timeout must fail validation")
	}
}
