// Package pgstore provides a PostgreSQL implementation of recipients.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkaumee/Alert.Ai/internal/incident"
	"github.com/mkaumee/Alert.Ai/internal/recipients"
)

var tracer = otel.Tracer("github.com/mkaumee/Alert.Ai/internal/recipients/pgstore")

//go:embed schema.sql
var schema string

// Store persists the recipient directory in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on the shared pool and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const recipientColumns = `id, name, phone, email, channels, lat, lon, created_at, updated_at`

// Put inserts or replaces a recipient.
func (s *Store) Put(ctx context.Context, r *recipients.Recipient) error {
	ctx, span := tracer.Start(ctx, "pgstore.Put", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
	))
	defer span.End()

	channelsJSON, err := json.Marshal(r.Channels)
	if err != nil {
		return fmt.Errorf("marshal channels: %w", err)
	}

	var lat, lon *float64
	if r.Location != nil {
		lat, lon = &r.Location.Lat, &r.Location.Lon
	}

	query := `INSERT INTO recipients (` + recipientColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	ON CONFLICT (id) DO UPDATE SET
		name       = EXCLUDED.name,
		phone      = EXCLUDED.phone,
		email      = EXCLUDED.email,
		channels   = EXCLUDED.channels,
		lat        = EXCLUDED.lat,
		lon        = EXCLUDED.lon,
		updated_at = EXCLUDED.updated_at`

	_, err = s.pool.Exec(ctx, query,
		r.ID, r.Name, r.Phone, r.Email, channelsJSON, lat, lon, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert recipient: %w", err)
	}
	return nil
}

// Get retrieves a recipient by ID.
func (s *Store) Get(ctx context.Context, id string) (*recipients.Recipient, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE id = $1`
	r, err := scanRecipient(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if r == nil {
		return nil, false, nil
	}
	return r, true, nil
}

// SetLocation updates a recipient's position.
func (s *Store) SetLocation(ctx context.Context, id string, loc incident.Location, at time.Time) error {
	ctx, span := tracer.Start(ctx, "pgstore.SetLocation", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
	))
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE recipients SET lat = $2, lon = $3, updated_at = $4 WHERE id = $1`,
		id, loc.Lat, loc.Lon, at,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("update location: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return incident.ErrNotFound
	}
	return nil
}

// List returns every recipient, ordered by ID.
func (s *Store) List(ctx context.Context) ([]recipients.Recipient, error) {
	ctx, span := tracer.Start(ctx, "pgstore.List", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT `+recipientColumns+` FROM recipients ORDER BY id`)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query recipients: %w", err)
	}
	defer rows.Close()

	var out []recipients.Recipient
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recipients: %w", err)
	}
	return out, nil
}

// scanRecipient scans a single row. Returns (nil, nil) when no row is found.
func scanRecipient(row pgx.Row) (*recipients.Recipient, error) {
	var (
		r            recipients.Recipient
		channelsJSON []byte
		lat, lon     *float64
	)
	err := row.Scan(&r.ID, &r.Name, &r.Phone, &r.Email, &channelsJSON, &lat, &lon, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}
	if err := json.Unmarshal(channelsJSON, &r.Channels); err != nil {
		return nil, fmt.Errorf("unmarshal channels: %w", err)
	}
	if lat != nil && lon != nil {
		r.Location = &incident.Location{Lat: *lat, Lon: *lon}
	}
	return &r, nil
}
