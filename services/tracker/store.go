// Package tracker persists facility occupancy readings and answers
// best/worst time-to-visit queries over them.
package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"rectrack-backend/lib/scrapers/recwell"
	"rectrack-backend/lib/timezone"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	_ "modernc.org/sqlite"
)

var tracer = otel.Tracer("services/tracker")

type Store struct {
	db *sql.DB
}

func NewStore(database *sql.DB) Store {
	return Store{db: database}
}

// Window bounds a query to an inclusive [Start, End] range. A zero
// bound means unbounded on that side.
type Window struct {
	Start time.Time
	End   time.Time
}

// Ingest upserts one reading. The facility row is created on first
// sight of its name, and a reading already stored at the same
// (facility, timestamp) is fully replaced, so re-ingesting the same
// collection output is safe. Facility creation and the reading upsert
// commit as one transaction.
func (s Store) Ingest(ctx context.Context, reading recwell.Reading) error {
	ctx, span := tracer.Start(ctx, "Ingest")
	defer span.End()
	span.SetAttributes(attribute.String("facility", reading.Name))

	if reading.Name == "" {
		return fmt.Errorf("cannot ingest a reading without a facility name")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO facilities (name) VALUES (?) ON CONFLICT (name) DO NOTHING`,
		reading.Name,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	var facilityId int64
	err = tx.QueryRowContext(
		ctx,
		`SELECT id FROM facilities WHERE name = ?`,
		reading.Name,
	).Scan(&facilityId)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	_, err = tx.ExecContext(
		ctx,
		`INSERT OR REPLACE INTO readings
		(facility_id, timestamp, occupancy, capacity, percentage, source_tag)
		VALUES (?, ?, ?, ?, ?, ?)`,
		facilityId,
		reading.Time.Unix(),
		nullableInt(reading.Occupancy),
		nullableInt(reading.Capacity),
		nullableFloat(reading.Percentage),
		reading.Source,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	return tx.Commit()
}

// Query returns every reading for a facility ordered by timestamp
// ascending, optionally bounded by an inclusive window. An unknown
// facility yields an empty result, not an error.
func (s Store) Query(ctx context.Context, facility string, window Window) ([]recwell.Reading, error) {
	ctx, span := tracer.Start(ctx, "Query")
	defer span.End()
	span.SetAttributes(attribute.String("facility", facility))

	query := strings.Builder{}
	query.WriteString(
		`SELECT f.name, r.timestamp, r.occupancy, r.capacity, r.percentage, r.source_tag
		FROM readings r
		JOIN facilities f ON f.id = r.facility_id
		WHERE f.name = ?`,
	)
	args := []any{facility}
	if !window.Start.IsZero() {
		query.WriteString(" AND r.timestamp >= ?")
		args = append(args, window.Start.Unix())
	}
	if !window.End.IsZero() {
		query.WriteString(" AND r.timestamp <= ?")
		args = append(args, window.End.Unix())
	}
	query.WriteString(" ORDER BY r.timestamp ASC")

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer rows.Close()

	var readings []recwell.Reading
	for rows.Next() {
		var name string
		var timestamp int64
		var occupancy, capacity sql.NullInt64
		var percentage sql.NullFloat64
		var source sql.NullString

		err = rows.Scan(&name, &timestamp, &occupancy, &capacity, &percentage, &source)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		reading := recwell.Reading{
			Name:   name,
			Time:   time.Unix(timestamp, 0).In(timezone.Location),
			Source: source.String,
		}
		if occupancy.Valid {
			reading.Occupancy = &occupancy.Int64
		}
		if capacity.Valid {
			reading.Capacity = &capacity.Int64
		}
		if percentage.Valid {
			reading.Percentage = &percentage.Float64
		}
		readings = append(readings, reading)
	}
	return readings, rows.Err()
}

// ListFacilities returns every known facility name in lexicographic
// order.
func (s Store) ListFacilities(ctx context.Context) ([]string, error) {
	ctx, span := tracer.Start(ctx, "ListFacilities")
	defer span.End()

	rows, err := s.db.QueryContext(ctx, `SELECT name FROM facilities ORDER BY name`)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		err = rows.Scan(&name)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func nullableInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
