// Package webhook delivers emergency notifications as signed JSON POSTs to a
// configured endpoint.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/mkaumee/Alert.Ai/internal/dispatch"
	"github.com/mkaumee/Alert.Ai/internal/incident"
	"github.com/mkaumee/Alert.Ai/internal/recipients"
)

const (
	httpTimeout = 10 * time.Second

	// SignatureHeader carries the hex HMAC-SHA256 of the request body.
	SignatureHeader = "X-Alertai-Signature"
)

// Config holds webhook channel settings.
type Config struct {
	URL    string
	Secret string
}

// RegisterFlags registers webhook flags on the given FlagSet.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.URL, "webhook-url", "", "Endpoint for webhook notifications. Empty disables the channel.")
	fs.StringVar(&c.Secret, "webhook-secret", "", "HMAC-SHA256 signing secret. Empty sends unsigned requests.")
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.URL == "" && c.Secret != "" {
		return errors.New("webhook-secret set without webhook-url")
	}
	return nil
}

// Enabled reports whether the channel is configured.
func (c *Config) Enabled() bool {
	return c.URL != ""
}

// Payload is the JSON body posted for each delivery.
type Payload struct {
	Incident  incident.Record `json:"incident"`
	Recipient string          `json:"recipient_id"`
	Meters    float64         `json:"meters"`
}

// Notifier posts notifications to a webhook endpoint. Implements
// dispatch.Channel.
type Notifier struct {
	cfg    Config
	client *http.Client
	log    log.Logger
}

// New creates a webhook notifier.
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
func (n *Notifier) Name() string { return "webhook" }

// Send posts one notification, signing the body when a secret is configured.
func (n *Notifier) Send(ctx context.Context, r recipients.Recipient, note dispatch.Notification) error {
	body, err := json.Marshal(Payload{
		Incident:  note.Incident,
		Recipient: r.ID,
		Meters:    note.Meters,
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.cfg.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(n.cfg.Secret, body))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook: endpoint returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under the given secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
