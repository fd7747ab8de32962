// Package simulated provides a fake enviro board for development machines
// without I2C. Readings follow a slow daily wave so dashboards look alive.
package simulated

import (
	"context"
	"math"
	"sync"
	"time"

	"enviro-telemetry/internal/sensor"
)

type Options struct {
	// Now defaults to time.Now.
	Now func() time.Time
	// ParticulateFailEvery makes every Nth particulate read time out.
	// Zero disables injected failures.
	ParticulateFailEvery int
	// WithoutParticulates leaves Board.Particulates nil.
	WithoutParticulates bool
}

type board struct {
	now     func() time.Time
	failN   int
	mu      sync.Mutex
	pmReads int
}

// New returns a simulated board.
func New(opts Options) sensor.Board {
	b := &board{now: opts.Now, failN: opts.ParticulateFailEvery}
	if b.now == nil {
		b.now = time.Now
	}
	out := sensor.Board{
		Reference:   b,
		Environment: b,
		Gas:         b,
		Light:       b,
	}
	if !opts.WithoutParticulates {
		out.Particulates = b
	}
	return out
}

// phase is the position in the day, 0..2π.
func (b *board) phase() float64 {
	t := b.now().UTC()
	secs := t.Hour()*3600 + t.Minute()*60 + t.Second()
	return 2 * math.Pi * float64(secs) / 86400
}

func (b *board) ReadReferenceTemperature(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return 45 + 5*math.Sin(b.phase()), nil
}

func (b *board) ReadEnvironment(ctx context.Context) (sensor.Weather, error) {
	if err := ctx.Err(); err != nil {
		return sensor.Weather{}, err
	}
	p := b.phase()
	return sensor.Weather{
		Temperature: 27 + 4*math.Sin(p),
		Pressure:    1013.25 + 3*math.Cos(p),
		Humidity:    55 - 10*math.Sin(p),
	}, nil
}

func (b *board) ReadGas(ctx context.Context) (sensor.GasReading, error) {
	if err := ctx.Err(); err != nil {
		return sensor.GasReading{}, err
	}
	p := b.phase()
	return sensor.GasReading{
		Oxidising: 20000 + 2000*math.Sin(p),
		Reducing:  300000 + 15000*math.Cos(p),
		NH3:       80000 + 5000*math.Sin(2*p),
	}, nil
}

func (b *board) ReadLight(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	// Peaks at noon, dark from 18:00 to 06:00.
	return math.Max(0, -400*math.Cos(b.phase())), nil
}

func (b *board) ReadParticulates(ctx context.Context) (sensor.ParticulateReading, error) {
	if err := ctx.Err(); err != nil {
		return sensor.ParticulateReading{}, err
	}
	b.mu.Lock()
	b.pmReads++
	n := b.pmReads
	b.mu.Unlock()
	if b.failN > 0 && n%b.failN == 0 {
		return sensor.ParticulateReading{}, sensor.ErrTimeout
	}
	p := b.phase()
	return sensor.ParticulateReading{
		PM1:  3 + math.Abs(math.Sin(p)),
		PM25: 5 + 2*math.Abs(math.Sin(p)),
		PM10: 8 + 3*math.Abs(math.Cos(p)),
	}, nil
}
