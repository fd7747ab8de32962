package enviroplus

import (
	"fmt"

	"go.bug.st/serial"
)

// pmsMode is the PMS5003 line setting: 9600 baud, 8N1.
var pmsMode = serial.Mode{
	BaudRate: 9600,
	DataBits: 8,
	Parity:   serial.NoParity,
	StopBits: serial.OneStopBit,
}

// openParticulatePort opens the PMS5003 UART in raw mode.
func openParticulatePort(device string) (serial.Port, error) {
	mode := pmsMode
	port, err := serial.Open(device, &mode)
	if err != nil {
		return nil, fmt.Errorf("pms5003: open %s: %w", device, err)
	}
	return port, nil
}
