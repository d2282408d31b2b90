// Package whatsapp delivers emergency notifications over Twilio's WhatsApp
// messaging API.
package whatsapp

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/mkaumee/Alert.Ai/internal/dispatch"
	"github.com/mkaumee/Alert.Ai/internal/recipients"
)

const httpTimeout = 10 * time.Second

// Config holds Twilio credentials and the sending number.
type Config struct {
	AccountSID string
	AuthToken  string
	From       string // sending number, e.g. +14155238886
	BaseURL    string
}

// RegisterFlags registers Twilio flags on the given FlagSet.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.AccountSID, "twilio-account-sid", "", "Twilio account SID. Empty disables the WhatsApp channel.")
	fs.StringVar(&c.AuthToken, "twilio-auth-token", "", "Twilio auth token.")
	fs.StringVar(&c.From, "twilio-from", "", "WhatsApp sending number in E.164 form.")
	fs.StringVar(&c.BaseURL, "twilio-base-url", "https://api.twilio.com", "Twilio API base URL.")
}

// Validate checks the configuration. All-empty is valid and means disabled.
func (c *Config) Validate() error {
	if c.AccountSID == "" && c.AuthToken == "" && c.From == "" {
		return nil
	}
	var errs []error
	if c.AccountSID == "" {
		errs = append(errs, errors.New("twilio-account-sid required when the channel is enabled"))
	}
	if c.AuthToken == "" {
		errs = append(errs, errors.New("twilio-auth-token required when the channel is enabled"))
	}
	if c.From == "" {
		errs = append(errs, errors.New("twilio-from required when the channel is enabled"))
	}
	return errors.Join(errs...)
}

// Enabled reports whether the channel is configured.
func (c *Config) Enabled() bool {
	return c.AccountSID != ""
}

// Notifier sends WhatsApp messages through Twilio. Implements dispatch.Channel.
type Notifier struct {
	cfg    Config
	client *http.Client
	log    log.Logger
}

// New creates a WhatsApp notifier.
func New(cfg Config, l log.Logger) *Notifier {
	if l == nil {
		l = log.Nop()
	}
	return &Notifier{
		cfg:    cfg,
		client: &http.Client{Timeout: httpTimeout},
		log:    l,
	}
}

// Name returns the channel name used in delivery records.
func (n *Notifier) Name() string { return "whatsapp" }

// Send posts one message to the recipient's phone number.
func (n *Notifier) Send(ctx context.Context, r recipients.Recipient, note dispatch.Notification) error {
	if r.Phone == "" {
		return fmt.Errorf("whatsapp: recipient %s has no phone number", r.ID)
	}

	form := url.Values{}
	form.Set("From", "whatsapp:"+n.cfg.From)
	form.Set("To", "whatsapp:"+r.Phone)
	form.Set("Body", Message(note))

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", n.cfg.BaseURL, n.cfg.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("whatsapp: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(n.cfg.AccountSID, n.cfg.AuthToken)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp: post message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("whatsapp: twilio returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Message renders the notification body: emergency type, site, sub-location,
// time, and a maps link to the exact coordinates.
func Message(note dispatch.Notification) string {
	rec := note.Incident
	var b strings.Builder
	fmt.Fprintf(&b, "\U0001f6a8 EMERGENCY ALERT: %s\n\n", strings.ToUpper(strings.ReplaceAll(string(rec.Report.Type), "_", " ")))
	fmt.Fprintf(&b, "Site: %s\n", rec.Report.Site)
	if rec.Report.SubLocation != "" {
		fmt.Fprintf(&b, "Location: %s\n", rec.Report.SubLocation)
	}
	fmt.Fprintf(&b, "Time: %s\n", rec.Report.ReportedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintf(&b, "Distance from you: %.0f m\n\n", note.Meters)
	fmt.Fprintf(&b, "Map: https://www.google.com/maps?q=%.6f,%.6f\n", rec.Report.Location.Lat, rec.Report.Location.Lon)
	fmt.Fprintf(&b, "Coordinates: %.6f, %.6f\n", rec.Report.Location.Lat, rec.Report.Location.Lon)
	fmt.Fprintf(&b, "Incident: %s", rec.ID)
	return b.String()
}
