// Package assembler runs one sampling pass over the enviro board and builds
// a telemetry record from it.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"enviro-telemetry/internal/compensation"
	"enviro-telemetry/internal/sensor"
	"enviro-telemetry/internal/telemetry"
)

var (
	// ErrSensorUnavailable marks a tick that produced no record because a
	// required sensor failed.
	ErrSensorUnavailable = errors.New("sensor unavailable")
	// ErrSensorDegraded marks a tick whose record lacks particulate data.
	ErrSensorDegraded = errors.New("sensor degraded")
)

// SensorError names the source that failed during a pass.
type SensorError struct {
	Source string
	// Kind is ErrSensorUnavailable or ErrSensorDegraded.
	Kind error
	Err  error
}

func (e *SensorError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Source, e.Err)
}

func (e *SensorError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Sample is the outcome of one pass: a complete base record, plus the reason
// particulate data is missing when the particulate sensor failed.
type Sample struct {
	Record   telemetry.Record
	Degraded error
}

type Options struct {
	// Factor is the compensation factor; must be positive.
	Factor float64
	// ParticulateTimeout bounds the particulate read. Zero means no bound
	// beyond the caller's context.
	ParticulateTimeout time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

type Assembler struct {
	board  sensor.Board
	opts   Options
	logger *slog.Logger
}

func New(board sensor.Board, opts Options, logger *slog.Logger) (*Assembler, error) {
	if board.Reference == nil || board.Environment == nil || board.Gas == nil || board.Light == nil {
		return nil, fmt.Errorf("assembler: reference, environment, gas and light sensors are required")
	}
	if !(opts.Factor > 0) || math.IsInf(opts.Factor, 0) {
		return nil, fmt.Errorf("assembler: compensation factor must be a positive number, got %v", opts.Factor)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Assembler{board: board, opts: opts, logger: logger}, nil
}

// Sample reads every sensor once. It returns a *SensorError matching
// ErrSensorUnavailable when the reference, environment, gas or light read
// fails. A particulate failure never fails the pass.
func (a *Assembler) Sample(ctx context.Context) (Sample, error) {
	cpuTemp, err := a.board.Reference.ReadReferenceTemperature(ctx)
	if err != nil {
		return Sample{}, unavailable("reference temperature", err)
	}

	env, err := a.board.Environment.ReadEnvironment(ctx)
	if err != nil {
		return Sample{}, unavailable("environment", err)
	}

	gas, err := a.board.Gas.ReadGas(ctx)
	if err != nil {
		return Sample{}, unavailable("gas", err)
	}

	lux, err := a.board.Light.ReadLight(ctx)
	if err != nil {
		return Sample{}, unavailable("light", err)
	}

	rec := telemetry.Record{
		Oxidised:    int64(gas.Oxidising),
		Reduced:     int64(gas.Reducing),
		NH3:         int64(gas.NH3),
		Temperature: compensation.Compensate(env.Temperature, cpuTemp, a.opts.Factor),
		Pressure:    compensation.Pressure(env.Pressure),
		Humidity:    int64(env.Humidity),
		Lux:         int64(lux),
		CPUTemp:     telemetry.Float(cpuTemp),
	}

	var degraded error
	if a.board.Particulates != nil {
		pm, err := a.readParticulates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return Sample{}, ctx.Err()
			}
			degraded = &SensorError{Source: "particulates", Kind: ErrSensorDegraded, Err: err}
			a.logger.Warn("particulate read failed, sending record without pm fields",
				"error", err,
				"timeout", errors.Is(err, sensor.ErrTimeout),
				"checksum", errors.Is(err, sensor.ErrChecksum),
			)
		} else {
			rec.PM1 = telemetry.Float(pm.PM1)
			rec.PM25 = telemetry.Float(pm.PM25)
			rec.PM10 = telemetry.Float(pm.PM10)
		}
	}

	// The wire carries whole seconds.
	rec.Timestamp = a.opts.Now().UTC().Truncate(time.Second)

	return Sample{Record: rec, Degraded: degraded}, nil
}

func (a *Assembler) readParticulates(ctx context.Context) (sensor.ParticulateReading, error) {
	if a.opts.ParticulateTimeout <= 0 {
		return a.board.Particulates.ReadParticulates(ctx)
	}
	pmCtx, cancel := context.WithTimeout(ctx, a.opts.ParticulateTimeout)
	defer cancel()
	pm, err := a.board.Particulates.ReadParticulates(pmCtx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("%w: %w", sensor.ErrTimeout, err)
	}
	return pm, err
}

func unavailable(source string, err error) *SensorError {
	return &SensorError{Source: source, Kind: ErrSensorUnavailable, Err: err}
}
