// Package enviroplus talks to the Pimoroni Enviro+ board through periph.io:
// BME280 (bmxx80), MICS6814 behind an ADS1015, LTR-559 and the optional
// PMS5003 on the serial port.
package enviroplus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"enviro-telemetry/internal/sensor"

	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/host/v3"
)

type Options struct {
	// I2CBus is the periph bus name; empty selects the default (/dev/i2c-1).
	I2CBus         string
	BME280Address  uint16
	ADS1015Address uint16
	LTR559Address  uint16
	// ParticulateDevice is the PMS5003 serial port. Empty disables it.
	ParticulateDevice string
}

// Open initialises the host drivers and every sensor on the board.
func Open(opts Options, logger *slog.Logger) (sensor.Board, error) {
	if _, err := host.Init(); err != nil {
		return sensor.Board{}, fmt.Errorf("host init: %w", err)
	}

	bus, err := i2creg.Open(opts.I2CBus)
	if err != nil {
		return sensor.Board{}, fmt.Errorf("open i2c bus %q: %w", opts.I2CBus, err)
	}

	var closers []func() error
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}
	closers = append(closers, bus.Close)

	bme, err := bmxx80.NewI2C(bus, opts.BME280Address, &bmxx80.DefaultOpts)
	if err != nil {
		_ = closeAll()
		return sensor.Board{}, fmt.Errorf("bme280 (0x%02X): %w", opts.BME280Address, err)
	}
	closers = append(closers, bme.Halt)

	gas, err := NewGasSensor(bus, opts.ADS1015Address)
	if err != nil {
		_ = closeAll()
		return sensor.Board{}, err
	}
	closers = append(closers, gas.Halt)

	light, err := NewLightSensor(bus, opts.LTR559Address)
	if err != nil {
		_ = closeAll()
		return sensor.Board{}, err
	}

	board := sensor.Board{
		Reference:   CPUThermometer{},
		Environment: &Environment{dev: bme},
		Gas:         gas,
		Light:       light,
	}

	if opts.ParticulateDevice != "" {
		port, err := openParticulatePort(opts.ParticulateDevice)
		if err != nil {
			// The particulate sensor is optional; run without it.
			logger.Warn("pms5003 unavailable, particulates disabled",
				"device", opts.ParticulateDevice,
				"error", err,
			)
		} else {
			pm := NewParticulateSensor(port)
			closers = append(closers, pm.Close)
			board.Particulates = pm
		}
	}

	var once sync.Once
	var closeErr error
	board.Close = func() error {
		once.Do(func() { closeErr = closeAll() })
		return closeErr
	}

	logger.Info("enviro+ sensors ready",
		"i2c_bus", opts.I2CBus,
		"bme280", fmt.Sprintf("0x%02X", opts.BME280Address),
		"ads1015", fmt.Sprintf("0x%02X", opts.ADS1015Address),
		"ltr559", fmt.Sprintf("0x%02X", opts.LTR559Address),
		"particulates", board.Particulates != nil,
	)
	return board, nil
}

// Environment adapts the bmxx80 driver to sensor.Environment.
type Environment struct {
	mu  sync.Mutex
	dev *bmxx80.Dev
}

func (e *Environment) ReadEnvironment(ctx context.Context) (sensor.Weather, error) {
	if err := ctx.Err(); err != nil {
		return sensor.Weather{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var env physic.Env
	if err := e.dev.Sense(&env); err != nil {
		return sensor.Weather{}, fmt.Errorf("bme280 sense: %w", err)
	}
	return sensor.Weather{
		Temperature: env.Temperature.Celsius(),
		Pressure:    float64(env.Pressure) / float64(100*physic.Pascal),
		Humidity:    float64(env.Humidity) / float64(physic.PercentRH),
	}, nil
}
