// Package claude implements the verification oracle on the Anthropic API.
//
// One incident means one Messages call: the evidence reference and report
// context go in, a strict YES/NO judgment comes out. The gate owns timeout
// and failure policy; this package only speaks the wire protocol.
package claude

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/mkaumee/Alert.Ai/internal/incident"
	"github.com/mkaumee/Alert.Ai/internal/verify"
)

const systemPrompt = `You are an emergency verification assistant. You are shown
evidence from a detection system along with the claimed emergency type and
location. Decide whether the evidence supports a genuine, active emergency of
the claimed type. Answer with a single word: YES or NO.`

// Config holds Anthropic API settings.
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int
}

// RegisterFlags registers oracle flags on the given FlagSet.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.APIKey, "anthropic-api-key", "", "Anthropic API key. Required unless the oracle is disabled.")
	fs.StringVar(&c.Model, "anthropic-model", string(anthropic.ModelClaudeSonnet4_5), "Model used for verification.")
	fs.IntVar(&c.MaxTokens, "anthropic-max-tokens", 64, "Token cap for the verification reply.")
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.Model == "" {
		errs = append(errs, errors.New("anthropic-model must not be empty"))
	}
	if c.MaxTokens <= 0 {
		errs = append(errs, errors.New("anthropic-max-tokens must be positive"))
	}
	return errors.Join(errs...)
}

// Oracle asks Claude whether a report's evidence shows a real emergency.
type Oracle struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// New creates an Oracle from the given configuration.
func New(cfg Config) *Oracle {
	return &Oracle{
		client:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     anthropic.Model(cfg.Model),
		maxTokens: int64(cfg.MaxTokens),
	}
}

// Assess sends one verification question and parses the reply.
func (o *Oracle) Assess(ctx context.Context, report incident.Report) (verify.Answer, error) {
	msg, err := o.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     o.model,
		MaxTokens: o.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(buildBlocks(report)...)},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}
	return verify.ParseAnswer(extractText(msg)), nil
}

// buildBlocks assembles the user turn. An http(s) evidence reference is
// attached as an image so the model sees the frame itself; anything else is
// described in the prompt only.
func buildBlocks(report incident.Report) []anthropic.ContentBlockParamUnion {
	blocks := []anthropic.ContentBlockParamUnion{
		anthropic.NewTextBlock(Prompt(report)),
	}
	if strings.HasPrefix(report.EvidenceRef, "http://") || strings.HasPrefix(report.EvidenceRef, "https://") {
		blocks = append(blocks, anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: report.EvidenceRef}))
	}
	return blocks
}

// Prompt renders the verification question for one report.
func Prompt(report incident.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Claimed emergency type: %s\n", report.Type)
	fmt.Fprintf(&b, "Site: %s\n", report.Site)
	if report.SubLocation != "" {
		fmt.Fprintf(&b, "Sub-location: %s\n", report.SubLocation)
	}
	fmt.Fprintf(&b, "Coordinates: %.4f, %.4f\n", report.Location.Lat, report.Location.Lon)
	fmt.Fprintf(&b, "Reported at: %s\n", report.ReportedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintf(&b, "Evidence reference: %s\n", report.EvidenceRef)
	b.WriteString("\nIs there a genuine, active emergency of the claimed type? Answer YES or NO.")
	return b.String()
}

// extractText concatenates the text blocks of a reply.
func extractText(msg *anthropic.Message) string {
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}
