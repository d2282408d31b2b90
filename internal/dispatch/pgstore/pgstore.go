// Package pgstore provides a PostgreSQL implementation of dispatch.Store.
package pgstore

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkaumee/Alert.Ai/internal/dispatch"
)

var tracer = otel.Tracer("github.com/mkaumee/Alert.Ai/internal/dispatch/pgstore")

//go:embed schema.sql
var schema string

// Store persists delivery records in PostgreSQL. The primary key on
// (incident, recipient, channel) is the dedup guarantee.
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

// Reserve claims the slot with an insert that yields no row on conflict.
func (s *Store) Reserve(ctx context.Context, incidentID, recipientID, channel string, at time.Time) (bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Reserve", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO deliveries (incident_id, recipient_id, channel, at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (incident_id, recipient_id, channel) DO NOTHING`,
		incidentID, recipientID, channel, at,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("reserve delivery: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Record writes the outcome of a reserved slot.
func (s *Store) Record(ctx context.Context, d dispatch.Delivery) error {
	ctx, span := tracer.Start(ctx, "pgstore.Record", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
	))
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`UPDATE deliveries SET ok = $4, error = $5, at = $6
		 WHERE incident_id = $1 AND recipient_id = $2 AND channel = $3`,
		d.IncidentID, d.RecipientID, d.Channel, d.OK, d.Error, d.At,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

// List returns the deliveries recorded for an incident.
func (s *Store) List(ctx context.Context, incidentID string) ([]dispatch.Delivery, error) {
	ctx, span := tracer.Start(ctx, "pgstore.List", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT incident_id, recipient_id, channel, ok, error, at
		 FROM deliveries WHERE incident_id = $1 ORDER BY recipient_id, channel`,
		incidentID,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	var out []dispatch.Delivery
	for rows.Next() {
		var d dispatch.Delivery
		if err := rows.Scan(&d.IncidentID, &d.RecipientID, &d.Channel, &d.OK, &d.Error, &d.At); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deliveries: %w", err)
	}
	return out, nil
}
