// Package recipients holds the notification recipient directory.
package recipients

import (
	"context"
	"time"

	"github.com/mkaumee/Alert.Ai/internal/incident"
)

// Channel names a delivery transport a recipient accepts.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelWebhook  Channel = "webhook"
)

// Recipient is one entry in the directory. Location is nil until the
// recipient reports a position; recipients without a location are never
// matched for delivery.
type Recipient struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Phone     string             `json:"phone,omitempty"`
	Email     string             `json:"email,omitempty"`
	Channels  []Channel          `json:"channels"`
	Location  *incident.Location `json:"location,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Store is the persistence interface for the recipient directory.
type Store interface {
	// Put inserts or replaces a recipient.
	Put(ctx context.Context, r *Recipient) error

	// Get retrieves a recipient by ID. ok is false when absent.
	Get(ctx context.Context, id string) (*Recipient, bool, error)

	// SetLocation updates a recipient's position. Returns
	// incident.ErrNotFound for an unknown id.
	SetLocation(ctx context.Context, id string, loc incident.Location, at time.Time) error

	// List returns every recipient, ordered by ID.
	List(ctx context.Context) ([]Recipient, error)
}
