package enviroplus

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"enviro-telemetry/internal/sensor"
)

const (
	pmsStart0   = 0x42
	pmsStart1   = 0x4D
	pmsFrameLen = 32
	// Length field value: 13 data words plus the checksum.
	pmsPayloadLen = 28
)

type pmsResult struct {
	reading sensor.ParticulateReading
	err     error
}

// ParticulateSensor decodes PMS5003 frames from a serial stream. Open
// assigns it a port set to 9600 8N1 raw mode.
//
// A single goroutine owns the stream; ReadParticulates waits for the next
// decoded frame so a read that times out never leaves a reader blocked on
// the port.
type ParticulateSensor struct {
	src     io.ReadCloser
	results chan pmsResult
	done    chan struct{}
	once    sync.Once
}

func NewParticulateSensor(src io.ReadCloser) *ParticulateSensor {
	p := &ParticulateSensor{
		src:     src,
		results: make(chan pmsResult, 1),
		done:    make(chan struct{}),
	}
	go p.pump()
	return p
}

func (p *ParticulateSensor) ReadParticulates(ctx context.Context) (sensor.ParticulateReading, error) {
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return sensor.ParticulateReading{}, fmt.Errorf("pms5003: %w", sensor.ErrTimeout)
		}
		return sensor.ParticulateReading{}, ctx.Err()
	case res, ok := <-p.results:
		if !ok {
			return sensor.ParticulateReading{}, fmt.Errorf("pms5003: stream closed")
		}
		return res.reading, res.err
	}
}

func (p *ParticulateSensor) Close() error {
	p.once.Do(func() { close(p.done) })
	return p.src.Close()
}

func (p *ParticulateSensor) pump() {
	defer close(p.results)
	r := bufio.NewReader(p.src)
	for {
		reading, err := readPMSFrame(r)
		if err != nil && !errors.Is(err, sensor.ErrChecksum) {
			// Stream is gone (closed port, unplugged sensor).
			p.publish(pmsResult{err: fmt.Errorf("pms5003: %w", err)})
			return
		}
		if !p.publish(pmsResult{reading: reading, err: err}) {
			return
		}
	}
}

// publish replaces any unread result with res so readers always see the
// freshest frame.
func (p *ParticulateSensor) publish(res pmsResult) bool {
	for {
		select {
		case <-p.done:
			return false
		case p.results <- res:
			return true
		default:
		}
		select {
		case <-p.results:
		default:
		}
	}
}

// readPMSFrame scans to the next start marker and decodes one frame.
// The returned error wraps sensor.ErrChecksum for a corrupt frame.
func readPMSFrame(r *bufio.Reader) (sensor.ParticulateReading, error) {
	var frame [pmsFrameLen]byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return sensor.ParticulateReading{}, err
		}
		if b != pmsStart0 {
			continue
		}
		next, err := r.Peek(1)
		if err != nil {
			return sensor.ParticulateReading{}, err
		}
		if next[0] == pmsStart1 {
			break
		}
	}
	frame[0] = pmsStart0
	if _, err := io.ReadFull(r, frame[1:]); err != nil {
		return sensor.ParticulateReading{}, err
	}
	return decodePMSFrame(frame[:])
}

func decodePMSFrame(frame []byte) (sensor.ParticulateReading, error) {
	if len(frame) != pmsFrameLen || frame[0] != pmsStart0 || frame[1] != pmsStart1 {
		return sensor.ParticulateReading{}, fmt.Errorf("pms5003: bad frame header")
	}
	if n := binary.BigEndian.Uint16(frame[2:4]); n != pmsPayloadLen {
		return sensor.ParticulateReading{}, fmt.Errorf("pms5003: frame length %d: %w", n, sensor.ErrChecksum)
	}
	var sum uint16
	for _, b := range frame[:pmsFrameLen-2] {
		sum += uint16(b)
	}
	if want := binary.BigEndian.Uint16(frame[pmsFrameLen-2:]); sum != want {
		return sensor.ParticulateReading{}, fmt.Errorf("pms5003: sum 0x%04X != 0x%04X: %w", sum, want, sensor.ErrChecksum)
	}
	word := func(i int) float64 {
		return float64(binary.BigEndian.Uint16(frame[4+2*i : 6+2*i]))
	}
	// Words 0-2 are the CF=1 standard particle concentrations.
	return sensor.ParticulateReading{
		PM1:  word(0),
		PM25: word(1),
		PM10: word(2),
	}, nil
}
