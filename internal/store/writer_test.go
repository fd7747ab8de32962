package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"enviro-telemetry/internal/db"
	"enviro-telemetry/internal/migrate"
	"enviro-telemetry/internal/telemetry"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/mattn/go-sqlite3"
)

func newSQLiteWriter(t *testing.T) (*Writer, *sql.DB) {
	t.Helper()
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = conn.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := migrate.Run(context.Background(), conn, db.SQLite, logger); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewWriter(conn, db.SQLite), conn
}

func record(ts int64) telemetry.Record {
	return telemetry.Record{
		Timestamp:   time.Unix(ts, 0).UTC(),
		Oxidised:    1,
		Reduced:     2,
		NH3:         3,
		Temperature: 12,
		Pressure:    101330,
		Humidity:    45,
		Lux:         300,
		CPUTemp:     telemetry.Float(40.5),
	}
}

func TestPersist_RoundTrip(t *testing.T) {
	ctx := context.Background()
	w, _ := newSQLiteWriter(t)

	full := record(1700000000)
	full.PM1 = telemetry.Float(1.5)
	full.PM25 = telemetry.Float(2.5)
	full.PM10 = telemetry.Float(10)

	id, err := w.Persist(ctx, full)
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if id <= 0 {
		t.Errorf("id = %d, want positive", id)
	}

	got, err := w.Latest(ctx, 10)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Latest returned %d rows, want 1", len(got))
	}
	if got[0].ID != id {
		t.Errorf("ID = %d, want %d", got[0].ID, id)
	}
	if !telemetry.Equal(got[0].Record, full) {
		t.Errorf("stored record differs:\n got  %+v\n want %+v", got[0].Record, full)
	}
}

func TestPersist_MissingParticulatesStoreNull(t *testing.T) {
	ctx := context.Background()
	w, conn := newSQLiteWriter(t)

	id, err := w.Persist(ctx, record(1700000000))
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}

	var pm1, pm25, pm10 sql.NullFloat64
	err = conn.QueryRowContext(ctx, `SELECT pm1, pm2_5, pm10 FROM telemetry WHERE id = ?`, int64(id)).Scan(&pm1, &pm25, &pm10)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if pm1.Valid || pm25.Valid || pm10.Valid {
		t.Errorf("particulate columns = %v %v %v, want NULL", pm1, pm25, pm10)
	}

	got, err := w.Latest(ctx, 1)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if got[0].HasParticulates() {
		t.Error("read back particulates that were never stored")
	}
}

func TestPersist_NoDeduplication(t *testing.T) {
	ctx := context.Background()
	w, _ := newSQLiteWriter(t)

	rec := record(1700000000)
	first, err := w.Persist(ctx, rec)
	if err != nil {
		t.Fatal(err)
	}
	second, err := w.Persist(ctx, rec)
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Errorf("identical records share id %d", first)
	}
	n, err := w.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}
}

func TestLatest_NewestFirst(t *testing.T) {
	ctx := context.Background()
	w, _ := newSQLiteWriter(t)

	for _, ts := range []int64{1700000002, 1700000000, 1700000001} {
		if _, err := w.Persist(ctx, record(ts)); err != nil {
			t.Fatal(err)
		}
	}

	got, err := w.Latest(ctx, 2)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Timestamp.Unix() != 1700000002 || got[1].Timestamp.Unix() != 1700000001 {
		t.Errorf("order = %v, %v", got[0].Timestamp, got[1].Timestamp)
	}
}

func TestLatest_LimitBounds(t *testing.T) {
	w, _ := newSQLiteWriter(t)
	for _, limit := range []int{0, -1, MaxLatest + 1} {
		if _, err := w.Latest(context.Background(), limit); err == nil {
			t.Errorf("Latest(%d) error = nil", limit)
		}
	}
}

func TestPersist_MissingTable(t *testing.T) {
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	_, err = NewWriter(conn, db.SQLite).Persist(context.Background(), record(1700000000))
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("err = %v, want ErrPersistence", err)
	}
}

var insertRe = regexp.QuoteMeta(`INSERT INTO telemetry`)

func persistArgs(rec telemetry.Record) []driver.Value {
	return []driver.Value{
		rec.Timestamp, rec.Oxidised, rec.Reduced, rec.NH3, rec.Temperature,
		rec.Pressure, rec.Humidity, rec.Lux, *rec.CPUTemp, nil, nil, nil,
	}
}

func TestPersist_Transactions(t *testing.T) {
	boom := errors.New("disk I/O error")
	rec := record(1700000000)

	tests := []struct {
		name   string
		expect func(mock sqlmock.Sqlmock)
		wantID StoredID
		want   error
	}{
		{
			name: "commit",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(insertRe).
					WithArgs(persistArgs(rec)...).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))
				mock.ExpectCommit()
			},
			wantID: 42,
		},
		{
			name: "begin fails",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin().WillReturnError(boom)
			},
			want: boom,
		},
		{
			name: "insert fails and rolls back",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(insertRe).WillReturnError(boom)
				mock.ExpectRollback()
			},
			want: boom,
		},
		{
			name: "commit fails",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(insertRe).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
				mock.ExpectCommit().WillReturnError(boom)
			},
			want: boom,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("sqlmock.New failed: %v", err)
			}
			defer conn.Close()
			tt.expect(mock)

			id, err := NewWriter(conn, db.SQLite).Persist(context.Background(), rec)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("Persist: %v", err)
				}
				if id != tt.wantID {
					t.Errorf("id = %d, want %d", id, tt.wantID)
				}
			} else {
				if !errors.Is(err, ErrPersistence) || !errors.Is(err, tt.want) {
					t.Errorf("err = %v, want ErrPersistence wrapping %v", err, tt.want)
				}
				if id != 0 {
					t.Errorf("id = %d on failure, want 0", id)
				}
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestNewWriter_PostgresPlaceholders(t *testing.T) {
	conn, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	defer conn.Close()

	w := NewWriter(conn, db.Postgres)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()
	if _, err := w.Persist(context.Background(), record(1700000000)); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	mock.ExpectQuery(regexp.QuoteMeta(`LIMIT $1`)).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	got, err := w.Latest(context.Background(), 5)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Latest = %v, want empty", got)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRange(t *testing.T) {
	ctx := context.Background()
	w, _ := newSQLiteWriter(t)

	for _, ts := range []int64{1700000300, 1700000000, 1700000200, 1700000100} {
		if _, err := w.Persist(ctx, record(ts)); err != nil {
			t.Fatal(err)
		}
	}

	from := time.Unix(1700000100, 0)
	to := time.Unix(1700000200, 0)
	got, err := w.Range(ctx, from, to, 10)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Timestamp.Unix() != 1700000100 || got[1].Timestamp.Unix() != 1700000200 {
		t.Errorf("order = %v, %v", got[0].Timestamp, got[1].Timestamp)
	}

	if _, err := w.Range(ctx, to, from, 10); err == nil {
		t.Error("Range accepted from after to")
	}
	if _, err := w.Range(ctx, from, to, 0); err == nil {
		t.Error("Range accepted limit 0")
	}
}
