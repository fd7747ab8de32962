package telemetry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Record is one sampling tick from the enviro station. The base fields are
// always present; CPUTemp and the particulate fields are optional.
type Record struct {
	Timestamp   time.Time
	Oxidised    int64
	Reduced     int64
	NH3         int64
	Temperature int64
	Pressure    int64
	Humidity    int64
	Lux         int64
	CPUTemp     *float64
	PM1         *float64
	PM25        *float64
	PM10        *float64
}

// wireRecord is the flat document published on the telemetry topic.
type wireRecord struct {
	Timestamp   int64    `json:"timestamp"`
	Oxidised    int64    `json:"oxidised"`
	Reduced     int64    `json:"reduced"`
	NH3         int64    `json:"nh3"`
	Temperature int64    `json:"temperature"`
	Pressure    int64    `json:"pressure"`
	Humidity    int64    `json:"humidity"`
	Lux         int64    `json:"lux"`
	CPUTemp     *float64 `json:"cpu_temp,omitempty"`
	PM1         *float64 `json:"pm1,omitempty"`
	PM25        *float64 `json:"pm2_5,omitempty"`
	PM10        *float64 `json:"pm10,omitempty"`
}

// Encode serializes the record to its wire form. The timestamp is sent as
// integer epoch seconds and absent optional fields are omitted.
func Encode(r Record) ([]byte, error) {
	data, err := json.Marshal(wireRecord{
		Timestamp:   r.Timestamp.Unix(),
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
	})
	if err != nil {
		return nil, fmt.Errorf("marshal telemetry: %w", err)
	}
	return data, nil
}

// HasParticulates reports whether any particulate field is set.
func (r Record) HasParticulates() bool {
	return r.PM1 != nil || r.PM25 != nil || r.PM10 != nil
}

// LogValue implements slog.LogValuer so a record logs as one group.
func (r Record) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Time("timestamp", r.Timestamp),
		slog.Int64("oxidised", r.Oxidised),
		slog.Int64("reduced", r.Reduced),
		slog.Int64("nh3", r.NH3),
		slog.Int64("temperature", r.Temperature),
		slog.Int64("pressure", r.Pressure),
		slog.Int64("humidity", r.Humidity),
		slog.Int64("lux", r.Lux),
	}
	for _, f := range []struct {
		key string
		v   *float64
	}{
		{"cpu_temp", r.CPUTemp},
		{"pm1", r.PM1},
		{"pm2_5", r.PM25},
		{"pm10", r.PM10},
	} {
		if f.v != nil {
			attrs = append(attrs, slog.Float64(f.key, *f.v))
		}
	}
	return slog.GroupValue(attrs...)
}

// Float returns a pointer to v. Used to populate optional fields.
func Float(v float64) *float64 {
	return &v
}

// Equal reports whether a and b carry the same values. Optional fields are
// compared by value, timestamps by instant.
func Equal(a, b Record) bool {
	return a.Timestamp.Equal(b.Timestamp) &&
		a.Oxidised == b.Oxidised &&
		a.Reduced == b.Reduced &&
		a.NH3 == b.NH3 &&
		a.Temperature == b.Temperature &&
		a.Pressure == b.Pressure &&
		a.Humidity == b.Humidity &&
		a.Lux == b.Lux &&
		equalOptional(a.CPUTemp, b.CPUTemp) &&
		equalOptional(a.PM1, b.PM1) &&
		equalOptional(a.PM25, b.PM25) &&
		equalOptional(a.PM10, b.PM10)
}

func equalOptional(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
