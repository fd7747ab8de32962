package enviroplus

import (
	"context"
	"fmt"

	"periph.io/x/conn/v3/i2c"
)

const (
	ltr559RegALSControl  = 0x80
	ltr559RegALSMeasRate = 0x85
	ltr559RegALSDataCh1  = 0x88

	// Active mode, gain 1x.
	ltr559ALSActive = 0x01
	// 100ms integration, 500ms repeat.
	ltr559ALSMeasRate = 0x03

	ltr559IntegrationMS = 100
	ltr559Gain          = 1
)

// Lux coefficients from the LTR-559 application note, indexed by the
// ch1/(ch0+ch1) ratio band.
var (
	ltr559Ch0Coeff = [4]float64{17743, 42785, 5926, 0}
	ltr559Ch1Coeff = [4]float64{-11059, 19548, -1185, 0}
)

// LightSensor reads ambient light from the LTR-559.
type LightSensor struct {
	dev *i2c.Dev
}

func NewLightSensor(bus i2c.Bus, addr uint16) (*LightSensor, error) {
	dev := &i2c.Dev{Bus: bus, Addr: addr}
	if _, err := dev.Write([]byte{ltr559RegALSControl, ltr559ALSActive}); err != nil {
		return nil, fmt.Errorf("ltr559 (0x%02X) enable: %w", addr, err)
	}
	if _, err := dev.Write([]byte{ltr559RegALSMeasRate, ltr559ALSMeasRate}); err != nil {
		return nil, fmt.Errorf("ltr559 (0x%02X) meas rate: %w", addr, err)
	}
	return &LightSensor{dev: dev}, nil
}

func (l *LightSensor) ReadLight(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var buf [4]byte
	if err := l.dev.Tx([]byte{ltr559RegALSDataCh1}, buf[:]); err != nil {
		return 0, fmt.Errorf("ltr559 read: %w", err)
	}
	ch1 := uint16(buf[0]) | uint16(buf[1])<<8
	ch0 := uint16(buf[2]) | uint16(buf[3])<<8
	return ltr559Lux(ch0, ch1), nil
}

func ltr559Lux(ch0, ch1 uint16) float64 {
	ratio := 101.0
	if sum := float64(ch0) + float64(ch1); sum > 0 {
		ratio = float64(ch1) * 100 / sum
	}
	var idx int
	switch {
	case ratio < 45:
		idx = 0
	case ratio < 64:
		idx = 1
	case ratio < 85:
		idx = 2
	default:
		idx = 3
	}
	lux := float64(ch0)*ltr559Ch0Coeff[idx] - float64(ch1)*ltr559Ch1Coeff[idx]
	lux /= ltr559IntegrationMS / 100.0
	lux /= ltr559Gain
	lux /= 10000
	if lux < 0 {
		return 0
	}
	return lux
}
