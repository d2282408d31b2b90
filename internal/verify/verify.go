// Package verify gates incidents on an external oracle's judgment before any
// notification is allowed.
package verify

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/mkaumee/Alert.Ai/internal/incident"
)

// Answer is the oracle's judgment of one report.
type Answer string

const (
	AnswerPositive  Answer = "positive"
	AnswerNegative  Answer = "negative"
	AnswerAmbiguous Answer = "ambiguous"
)

// Oracle assesses whether the evidence behind a report shows a genuine
// emergency. Implementations must respect ctx cancellation.
type Oracle interface {
	Assess(ctx context.Context, report incident.Report) (Answer, error)
}

// ParseAnswer maps free-form oracle text onto an Answer. A reply containing
// "yes" without "no" is positive, "no" without "yes" is negative, anything
// else is ambiguous.
func ParseAnswer(text string) Answer {
	t := strings.ToLower(text)
	yes := strings.Contains(t, "yes")
	no := strings.Contains(t, "no")
	switch {
	case yes && !no:
		return AnswerPositive
	case no && !yes:
		return AnswerNegative
	default:
		return AnswerAmbiguous
	}
}

// OracleFailure reports that the oracle call itself failed (transport error,
// timeout) as opposed to the oracle answering negatively. The gate still
// returns a decision alongside it.
type OracleFailure struct {
	Err error
}

func (e *OracleFailure) Error() string { return fmt.Sprintf("oracle failure: %v", e.Err) }
func (e *OracleFailure) Unwrap() error { return e.Err }

// IsOracleFailure reports whether err wraps an OracleFailure.
func IsOracleFailure(err error) bool {
	var of *OracleFailure
	return errors.As(err, &of)
}

// Config holds verification gate settings.
type Config struct {
	Timeout  time.Duration
	FailOpen bool
}

// RegisterFlags registers verification flags on the given FlagSet.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.DurationVar(&c.Timeout, "verify-timeout", 30*time.Second, "Hard deadline for a single oracle call.")
	fs.BoolVar(&c.FailOpen, "verify-fail-open", false,
		"Treat oracle call failures as verified instead of rejected. For simulation deployments only.")
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.Timeout <= 0 {
		errs = append(errs, errors.New("verify-timeout must be positive"))
	}
	return errors.Join(errs...)
}

// Gate wraps a single oracle call per incident with a hard timeout and a
// closed-by-default failure policy.
type Gate struct {
	oracle   Oracle
	timeout  time.Duration
	failOpen bool
	log      log.Logger
}

// New returns a Gate over the given oracle.
func New(oracle Oracle, cfg Config, l log.Logger) *Gate {
	if l == nil {
		l = log.Nop()
	}
	return &Gate{oracle: oracle, timeout: cfg.Timeout, failOpen: cfg.FailOpen, log: l}
}

// Verify asks the oracle about one report and maps the outcome to a final
// verification status. Ambiguous answers reject. When the call itself fails
// the returned error wraps OracleFailure and the status follows the fail-open
// policy; the caller records both.
func (g *Gate) Verify(ctx context.Context, report incident.Report) (incident.VerificationStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	answer, err := g.oracle.Assess(ctx, report)
	if err != nil {
		status := incident.StatusRejected
		if g.failOpen {
			status = incident.StatusVerified
		}
		g.log.Warn(ctx, "oracle call failed",
			"emergency_type", string(report.Type),
			"fail_open", g.failOpen,
			"error", err.Error(),
		)
		return status, &OracleFailure{Err: err}
	}

	switch answer {
	case AnswerPositive:
		return incident.StatusVerified, nil
	case AnswerNegative:
		return incident.StatusRejected, nil
	default:
		g.log.Info(ctx, "ambiguous oracle answer, rejecting",
			"emergency_type", string(report.Type),
		)
		return incident.StatusRejected, nil
	}
}
