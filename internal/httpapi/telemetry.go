package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"enviro-telemetry/internal/store"
)

const (
	defaultLatestLimit   = 10
	defaultReadingsLimit = 100
	defaultReadingsRange = 24 * time.Hour
)

type reading struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Oxidised    int64     `json:"oxidised"`
	Reduced     int64     `json:"reduced"`
	NH3         int64     `json:"nh3"`
	Temperature int64     `json:"temperature"`
	Pressure    int64     `json:"pressure"`
	Humidity    int64     `json:"humidity"`
	Lux         int64     `json:"lux"`
	CPUTemp     *float64  `json:"cpu_temp"`
	PM1         *float64  `json:"pm1"`
	PM25        *float64  `json:"pm2_5"`
	PM10        *float64  `json:"pm10"`
}

func toReading(r store.StoredRecord) reading {
	return reading{
		ID:          int64(r.ID),
		Timestamp:   r.Timestamp.UTC(),
		Oxidised:    r.Oxidised,
		Reduced:     r.Reduced,
		NH3:         r.NH3,
		Temperature: r.Temperature,
		Pressure:    r.Pressure,
		Humidity:    r.Humidity,
		Lux:         r.Lux,
		CPUTemp:     r.CPUTemp,
		PM1:         r.PM1,
		PM25:        r.PM25,
		PM10:        r.PM10,
	}
}

func (a *api) handleLatest(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"), defaultLatestLimit)
	if err != nil {
		writeError(w, a.logger, http.StatusBadRequest, err.Error())
		return
	}

	records, err := a.deps.Reader.Latest(r.Context(), limit)
	if err != nil {
		a.logger.Error("failed to read latest telemetry", "error", err)
		writeError(w, a.logger, http.StatusInternalServerError, "failed to read telemetry")
		return
	}

	writeJSON(w, a.logger, http.StatusOK, map[string]any{
		"limit": limit,
		"items": toReadings(records),
	})
}

// handleReadings returns records in [from, to], oldest first. Without a
// window it covers the last 24 hours.
func (a *api) handleReadings(w http.ResponseWriter, r *http.Request) {
	from, to, limit, err := parseReadingsQuery(r, time.Now().UTC())
	if err != nil {
		writeError(w, a.logger, http.StatusBadRequest, err.Error())
		return
	}

	records, err := a.deps.Reader.Range(r.Context(), from, to, limit)
	if err != nil {
		a.logger.Error("failed to read telemetry range", "from", from, "to", to, "error", err)
		writeError(w, a.logger, http.StatusInternalServerError, "failed to read telemetry")
		return
	}

	writeJSON(w, a.logger, http.StatusOK, map[string]any{
		"from":  from,
		"to":    to,
		"limit": limit,
		"items": toReadings(records),
	})
}

func toReadings(records []store.StoredRecord) []reading {
	items := make([]reading, 0, len(records))
	for _, rec := range records {
		items = append(items, toReading(rec))
	}
	return items
}

func parseReadingsQuery(r *http.Request, now time.Time) (from time.Time, to time.Time, limit int, err error) {
	q := r.URL.Query()

	to = now
	if s := q.Get("to"); s != "" {
		to, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, time.Time{}, 0, errors.New("invalid 'to' (expected RFC3339)")
		}
	}
	from = to.Add(-defaultReadingsRange)
	if s := q.Get("from"); s != "" {
		from, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, time.Time{}, 0, errors.New("invalid 'from' (expected RFC3339)")
		}
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, 0, errors.New("'from' must be <= 'to'")
	}

	limit, err = parseLimit(q.Get("limit"), defaultReadingsLimit)
	if err != nil {
		return time.Time{}, time.Time{}, 0, err
	}
	return from.UTC(), to.UTC(), limit, nil
}

func parseLimit(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.New("invalid 'limit' (expected integer)")
	}
	if n <= 0 {
		return 0, errors.New("'limit' must be > 0")
	}
	if n > store.MaxLatest {
		return 0, fmt.Errorf("'limit' must be <= %d", store.MaxLatest)
	}
	return n, nil
}
