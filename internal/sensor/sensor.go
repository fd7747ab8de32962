// Package sensor defines the read side of the enviro station hardware.
// Implementations live in the enviroplus (periph.io) and simulated packages.
package sensor

import (
	"context"
	"errors"
)

var (
	// ErrTimeout is returned when a sensor does not answer in time.
	ErrTimeout = errors.New("sensor read timed out")
	// ErrChecksum is returned when a sensor frame fails its checksum.
	ErrChecksum = errors.New("sensor frame checksum mismatch")
)

// Weather is one BME280 reading before compensation.
type Weather struct {
	Temperature float64 // °C
	Pressure    float64 // hPa
	Humidity    float64 // %rH
}

// GasReading holds the MICS6814 resistances in Ohms.
type GasReading struct {
	Oxidising float64
	Reducing  float64
	NH3       float64
}

// ParticulateReading holds the PMS5003 CF=1 standard particle
// concentrations in µg/m³.
type ParticulateReading struct {
	PM1  float64
	PM25 float64
	PM10 float64
}

// ReferenceThermometer reads the heat source next to the sensors, usually
// the SoC.
type ReferenceThermometer interface {
	ReadReferenceTemperature(ctx context.Context) (float64, error)
}

// Environment reads temperature, pressure and humidity in one transaction.
type Environment interface {
	ReadEnvironment(ctx context.Context) (Weather, error)
}

// Gas reads the three gas channels in one transaction.
type Gas interface {
	ReadGas(ctx context.Context) (GasReading, error)
}

// Light reads ambient light in lux.
type Light interface {
	ReadLight(ctx context.Context) (float64, error)
}

// Particulates reads the particulate sensor. Implementations return
// ErrTimeout or ErrChecksum (possibly wrapped) for the expected failures.
type Particulates interface {
	ReadParticulates(ctx context.Context) (ParticulateReading, error)
}

// Board bundles the sources one station exposes. Particulates is nil when
// the station has no particulate sensor.
type Board struct {
	Reference    ReferenceThermometer
	Environment  Environment
	Gas          Gas
	Light        Light
	Particulates Particulates

	// Close releases the underlying buses. May be nil.
	Close func() error
}
