// Package ingest turns inbound telemetry payloads into trusted records.
package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"enviro-telemetry/internal/telemetry"
)

// Reason classifies a rejected payload.
type Reason string

const (
	MalformedPayload Reason = "MalformedPayload"
	SchemaViolation  Reason = "SchemaViolation"
)

var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrSchemaViolation  = errors.New("schema violation")
)

// Rejection explains why a payload was discarded.
type Rejection struct {
	Reason Reason
	// Field is the first offending key, empty for document-level problems.
	Field string
	Err   error
}

func (r *Rejection) Error() string {
	if r.Field == "" {
		return fmt.Sprintf("%s: %v", r.sentinel(), r.Err)
	}
	return fmt.Sprintf("%s: %s: %v", r.sentinel(), r.Field, r.Err)
}

func (r *Rejection) Unwrap() error { return r.Err }

func (r *Rejection) Is(target error) bool {
	return target == r.sentinel()
}

func (r *Rejection) sentinel() error {
	if r.Reason == MalformedPayload {
		return ErrMalformedPayload
	}
	return ErrSchemaViolation
}

// Timestamp layouts accepted besides epoch seconds. Layouts without a zone
// are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

type intField struct {
	key string
	dst func(*telemetry.Record) *int64
}

type floatField struct {
	key string
	dst func(*telemetry.Record) **float64
}

var requiredInts = []intField{
	{"oxidised", func(r *telemetry.Record) *int64 { return &r.Oxidised }},
	{"reduced", func(r *telemetry.Record) *int64 { return &r.Reduced }},
	{"nh3", func(r *telemetry.Record) *int64 { return &r.NH3 }},
	{"temperature", func(r *telemetry.Record) *int64 { return &r.Temperature }},
	{"pressure", func(r *telemetry.Record) *int64 { return &r.Pressure }},
	{"humidity", func(r *telemetry.Record) *int64 { return &r.Humidity }},
	{"lux", func(r *telemetry.Record) *int64 { return &r.Lux }},
}

// cpu_temp is optional because the first producer revision never sent it.
var optionalFloats = []floatField{
	{"cpu_temp", func(r *telemetry.Record) **float64 { return &r.CPUTemp }},
	{"pm1", func(r *telemetry.Record) **float64 { return &r.PM1 }},
	{"pm2_5", func(r *telemetry.Record) **float64 { return &r.PM25 }},
	{"pm10", func(r *telemetry.Record) **float64 { return &r.PM10 }},
}

// Validator checks payloads against the telemetry schema. It holds no state
// and is safe for concurrent use.
type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

// Validate parses raw and returns a fully typed record with a UTC timestamp,
// or a *Rejection matching ErrMalformedPayload or ErrSchemaViolation.
// Unknown keys are ignored.
func (v *Validator) Validate(raw []byte) (telemetry.Record, error) {
	if !json.Valid(raw) {
		var doc any
		err := json.Unmarshal(raw, &doc)
		if err == nil {
			err = errors.New("invalid JSON")
		}
		return telemetry.Record{}, &Rejection{Reason: MalformedPayload, Err: err}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return telemetry.Record{}, &Rejection{Reason: MalformedPayload, Err: err}
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return telemetry.Record{}, violation("", fmt.Errorf("expected a JSON object, got %s", jsonKind(doc)))
	}

	var (
		rec   telemetry.Record
		first string
		errs  []error
	)
	fail := func(field string, err error) {
		if first == "" {
			first = field
		}
		errs = append(errs, fmt.Errorf("%s: %w", field, err))
	}

	if ts, err := parseTimestamp(obj["timestamp"]); err != nil {
		fail("timestamp", err)
	} else {
		rec.Timestamp = ts
	}

	for _, f := range requiredInts {
		n, err := parseInt(obj[f.key])
		if err != nil {
			fail(f.key, err)
			continue
		}
		*f.dst(&rec) = n
	}

	for _, f := range optionalFloats {
		x, err := parseOptionalFloat(obj[f.key])
		if err != nil {
			fail(f.key, err)
			continue
		}
		*f.dst(&rec) = x
	}

	if len(errs) > 0 {
		return telemetry.Record{}, violation(first, errors.Join(errs...))
	}
	return rec, nil
}

func violation(field string, err error) *Rejection {
	return &Rejection{Reason: SchemaViolation, Field: field, Err: err}
}

var errRequired = errors.New("field required")

func parseInt(v any) (int64, error) {
	switch t := v.(type) {
	case nil:
		return 0, errRequired
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, nil
		}
		f, err := t.Float64()
		if err != nil {
			return 0, fmt.Errorf("value %s is not an integer", t)
		}
		if f != math.Trunc(f) || f >= 1<<63 || f < -(1<<63) {
			return 0, fmt.Errorf("value %s is not an integer", t)
		}
		return int64(f), nil
	default:
		return 0, fmt.Errorf("expected integer, got %s", jsonKind(v))
	}
}

// parseOptionalFloat returns nil for an absent or null value.
func parseOptionalFloat(v any) (*float64, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("value %s is not a number", t)
		}
		return &f, nil
	default:
		return nil, fmt.Errorf("expected number, got %s", jsonKind(v))
	}
}

// parseTimestamp accepts epoch seconds (integer or fractional) or a
// date-time string, and normalizes to UTC.
func parseTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, errRequired
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return time.Unix(n, 0).UTC(), nil
		}
		f, err := t.Float64()
		if err != nil || math.IsInf(f, 0) || math.Abs(f) > 1<<53 {
			return time.Time{}, fmt.Errorf("epoch %s out of range", t)
		}
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timestampLayouts {
			if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return ts.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognised date-time %q", t)
	default:
		return time.Time{}, fmt.Errorf("expected epoch seconds or date-time string, got %s", jsonKind(v))
	}
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case json.Number, float64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
