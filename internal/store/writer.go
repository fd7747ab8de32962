// Package store persists validated telemetry records and reads them back.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"enviro-telemetry/internal/db"
	"enviro-telemetry/internal/telemetry"
)

// ErrPersistence wraps every failure to store or read a record.
var ErrPersistence = errors.New("persistence failure")

// StoredID is the generated row id of a persisted record.
type StoredID int64

type StoredRecord struct {
	ID StoredID
	telemetry.Record
}

const columns = `timestamp, oxidised, reduced, nh3, temperature, pressure, humidity, lux, cpu_temp, pm1, pm2_5, pm10`

// MaxLatest caps how many rows Latest and Range return.
const MaxLatest = 1000

type Writer struct {
	db      *sql.DB
	dialect db.Dialect

	insertSQL string
	latestSQL string
	rangeSQL  string
}

func NewWriter(conn *sql.DB, dialect db.Dialect) *Writer {
	return &Writer{
		db:      conn,
		dialect: dialect,
		insertSQL: dialect.Rebind(`INSERT INTO telemetry (` + columns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id`),
		latestSQL: dialect.Rebind(`SELECT id, ` + columns + `
FROM telemetry
ORDER BY timestamp DESC, id DESC
LIMIT ?`),
		rangeSQL: dialect.Rebind(`SELECT id, ` + columns + `
FROM telemetry
WHERE timestamp >= ? AND timestamp <= ?
ORDER BY timestamp ASC, id ASC
LIMIT ?`),
	}
}

// Persist inserts rec as a new row in its own transaction and returns the
// generated id. Every call adds a row; nothing is de-duplicated.
func (w *Writer) Persist(ctx context.Context, rec telemetry.Record) (id StoredID, err error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %w", ErrPersistence, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var raw int64
	err = tx.QueryRowContext(ctx, w.insertSQL,
		rec.Timestamp.UTC(),
		rec.Oxidised,
		rec.Reduced,
		rec.NH3,
		rec.Temperature,
		rec.Pressure,
		rec.Humidity,
		rec.Lux,
		rec.CPUTemp,
		rec.PM1,
		rec.PM25,
		rec.PM10,
	).Scan(&raw)
	if err != nil {
		return 0, fmt.Errorf("%w: insert telemetry: %w", ErrPersistence, err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %w", ErrPersistence, err)
	}
	return StoredID(raw), nil
}

// Latest returns up to limit records, newest first.
func (w *Writer) Latest(ctx context.Context, limit int) ([]StoredRecord, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	return w.query(ctx, "latest", w.latestSQL, limit)
}

// Range returns up to limit records with from <= timestamp <= to, oldest
// first.
func (w *Writer) Range(ctx context.Context, from, to time.Time, limit int) ([]StoredRecord, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	if from.After(to) {
		return nil, fmt.Errorf("from %s is after to %s", from, to)
	}
	return w.query(ctx, "range", w.rangeSQL, from.UTC(), to.UTC(), limit)
}

func checkLimit(limit int) error {
	if limit < 1 || limit > MaxLatest {
		return fmt.Errorf("limit must be between 1 and %d, got %d", MaxLatest, limit)
	}
	return nil
}

func (w *Writer) query(ctx context.Context, name, query string, args ...any) ([]StoredRecord, error) {
	rows, err := w.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query %s: %w", ErrPersistence, name, err)
	}
	defer rows.Close()

	var out []StoredRecord
	for rows.Next() {
		var (
			r                    StoredRecord
			cpu, pm1, pm25, pm10 sql.NullFloat64
		)
		if err := rows.Scan(
			&r.ID,
			&r.Timestamp,
			&r.Oxidised,
			&r.Reduced,
			&r.NH3,
			&r.Temperature,
			&r.Pressure,
			&r.Humidity,
			&r.Lux,
			&cpu,
			&pm1,
			&pm25,
			&pm10,
		); err != nil {
			return nil, fmt.Errorf("%w: scan telemetry: %w", ErrPersistence, err)
		}
		r.Timestamp = r.Timestamp.UTC()
		r.CPUTemp = nullable(cpu)
		r.PM1 = nullable(pm1)
		r.PM25 = nullable(pm25)
		r.PM10 = nullable(pm10)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %w", ErrPersistence, err)
	}
	return out, nil
}

// Count returns the number of stored records.
func (w *Writer) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := w.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM telemetry`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count: %w", ErrPersistence, err)
	}
	return n, nil
}

// Ping checks that the database is reachable.
func (w *Writer) Ping(ctx context.Context) error {
	if err := w.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping: %w", ErrPersistence, err)
	}
	return nil
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return telemetry.Float(v.Float64)
}
