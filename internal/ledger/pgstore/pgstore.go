// Package pgstore provides a PostgreSQL implementation of ledger.Store.
package pgstore

import (
	"context"
	_ "embed"
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
)

var tracer = otel.Tracer("github.com/mkaumee/Alert.Ai/internal/ledger/pgstore")

//go:embed schema.sql
var schema string

// Store persists incident records in PostgreSQL.
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

const incidentColumns = `id, emergency_type, lat, lon, evidence_ref, reported_at,
	site, sub_location, source_id, status, created_at, verified_at`

// Append inserts a new record. IDs are never reused, so this is a plain insert.
func (s *Store) Append(ctx context.Context, rec *incident.Record) error {
	ctx, span := tracer.Start(ctx, "pgstore.Append", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	var verifiedAt *time.Time
	if !rec.VerifiedAt.IsZero() {
		verifiedAt = &rec.VerifiedAt
	}

	query := `INSERT INTO incidents (` + incidentColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, string(rec.Report.Type), rec.Report.Location.Lat, rec.Report.Location.Lon,
		rec.Report.EvidenceRef, rec.Report.ReportedAt, rec.Report.Site, rec.Report.SubLocation,
		rec.Report.SourceID, string(rec.Status), rec.CreatedAt, verifiedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

// Get retrieves a record by ID.
func (s *Store) Get(ctx context.Context, id string) (*incident.Record, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`
	rec, err := scanIncident(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if rec == nil {
		return nil, false, nil
	}
	return rec, true, nil
}

// SetStatus moves a pending record to its final status. The WHERE clause on
// status makes the transition single-shot even under concurrent deciders.
func (s *Store) SetStatus(ctx context.Context, id string, status incident.VerificationStatus, at time.Time) error {
	ctx, span := tracer.Start(ctx, "pgstore.SetStatus", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
	))
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE incidents SET status = $2, verified_at = $3 WHERE id = $1 AND status = $4`,
		id, string(status), at, string(incident.StatusPending),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM incidents WHERE id = $1)`, id).Scan(&exists); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("check incident: %w", err)
		}
		if !exists {
			return incident.ErrNotFound
		}
		return incident.ErrAlreadyDecided
	}
	return nil
}

// List returns up to limit records, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]incident.Record, error) {
	ctx, span := tracer.Start(ctx, "pgstore.List", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + incidentColumns + ` FROM incidents ORDER BY created_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	return s.queryIncidents(ctx, span, query, args...)
}

// ListVerifiedSince returns verified records created at or after since, newest first.
func (s *Store) ListVerifiedSince(ctx context.Context, since time.Time) ([]incident.Record, error) {
	ctx, span := tracer.Start(ctx, "pgstore.ListVerifiedSince", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + incidentColumns + ` FROM incidents
	WHERE status = $1 AND created_at >= $2 ORDER BY created_at DESC, id DESC`
	return s.queryIncidents(ctx, span, query, string(incident.StatusVerified), since)
}

func (s *Store) queryIncidents(ctx context.Context, span trace.Span, query string, args ...any) ([]incident.Record, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	var out []incident.Record
	for rows.Next() {
		rec, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}
	return out, nil
}

// scanIncident scans a single row. Returns (nil, nil) when no row is found.
func scanIncident(row pgx.Row) (*incident.Record, error) {
	var (
		rec        incident.Record
		typ        string
		status     string
		verifiedAt *time.Time
	)
	err := row.Scan(
		&rec.ID, &typ, &rec.Report.Location.Lat, &rec.Report.Location.Lon,
		&rec.Report.EvidenceRef, &rec.Report.ReportedAt, &rec.Report.Site,
		&rec.Report.SubLocation, &rec.Report.SourceID, &status, &rec.CreatedAt, &verifiedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}
	rec.Report.Type = incident.Type(typ)
	rec.Status = incident.VerificationStatus(status)
	if verifiedAt != nil {
		rec.VerifiedAt = *verifiedAt
	}
	return &rec, nil
}
