package enviroplus

import (
	"context"
	"fmt"

	"enviro-telemetry/internal/sensor"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
)

const (
	// The MICS6814 channels sit behind 56kΩ load resistors on a 3.3V rail.
	gasSupplyVolts = 3.3
	gasLoadOhms    = 56000
)

// GasSensor reads the MICS6814 through the ADS1015 on the Enviro+ board.
type GasSensor struct {
	adc       *ads1x15.Dev
	oxidising ads1x15.PinADC
	reducing  ads1x15.PinADC
	nh3       ads1x15.PinADC
}

func NewGasSensor(bus i2c.Bus, addr uint16) (*GasSensor, error) {
	adc, err := ads1x15.NewADS1015(bus, &ads1x15.Opts{I2cAddress: addr})
	if err != nil {
		return nil, fmt.Errorf("ads1015 (0x%02X): %w", addr, err)
	}

	g := &GasSensor{adc: adc}
	channels := []struct {
		ch  ads1x15.Channel
		pin *ads1x15.PinADC
	}{
		{ads1x15.Channel0, &g.oxidising},
		{ads1x15.Channel1, &g.reducing},
		{ads1x15.Channel2, &g.nh3},
	}
	for _, c := range channels {
		pin, err := adc.PinForChannel(c.ch, 4096*physic.MilliVolt, physic.Hertz, ads1x15.BestQuality)
		if err != nil {
			_ = g.Halt()
			return nil, fmt.Errorf("ads1015 channel %v: %w", c.ch, err)
		}
		*c.pin = pin
	}
	return g, nil
}

func (g *GasSensor) ReadGas(ctx context.Context) (sensor.GasReading, error) {
	var out sensor.GasReading
	targets := []struct {
		name string
		pin  ads1x15.PinADC
		dst  *float64
	}{
		{"oxidising", g.oxidising, &out.Oxidising},
		{"reducing", g.reducing, &out.Reducing},
		{"nh3", g.nh3, &out.NH3},
	}
	for _, tgt := range targets {
		if err := ctx.Err(); err != nil {
			return sensor.GasReading{}, err
		}
		sample, err := tgt.pin.Read()
		if err != nil {
			return sensor.GasReading{}, fmt.Errorf("read %s: %w", tgt.name, err)
		}
		ohms, err := gasResistance(float64(sample.V) / float64(physic.Volt))
		if err != nil {
			return sensor.GasReading{}, fmt.Errorf("%s: %w", tgt.name, err)
		}
		*tgt.dst = ohms
	}
	return out, nil
}

func (g *GasSensor) Halt() error {
	for _, p := range []ads1x15.PinADC{g.oxidising, g.reducing, g.nh3} {
		if p != nil {
			_ = p.Halt()
		}
	}
	return g.adc.Halt()
}

// gasResistance converts the divider voltage into sensor resistance.
func gasResistance(volts float64) (float64, error) {
	if volts < 0 || volts >= gasSupplyVolts {
		return 0, fmt.Errorf("gas channel voltage %.3fV outside 0..%.1fV", volts, gasSupplyVolts)
	}
	return volts * gasLoadOhms / (gasSupplyVolts - volts), nil
}
