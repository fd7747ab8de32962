package enviroplus

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
	"testing"
	"time"

	"enviro-telemetry/internal/sensor"
)

func TestParseVcgencmdTemp(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    float64
		wantErr bool
	}{
		{name: "typical", in: "temp=48.3'C\n", want: 48.3},
		{name: "integer", in: "temp=52'C", want: 52},
		{name: "missing quote", in: "temp=48.3C", wantErr: true},
		{name: "garbage", in: "error: not supported", wantErr: true},
		{name: "non numeric", in: "temp=hot'C", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseVcgencmdTemp(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseVcgencmdTemp(%q) error = nil, want error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseVcgencmdTemp(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("parseVcgencmdTemp(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseThermalZone(t *testing.T) {
	got, err := parseThermalZone("47236\n")
	if err != nil {
		t.Fatalf("parseThermalZone: %v", err)
	}
	if got != 47.236 {
		t.Errorf("parseThermalZone = %v, want 47.236", got)
	}
}

func TestCPUThermometer_FallsBackToThermalZone(t *testing.T) {
	zone := t.TempDir() + "/temp"
	if err := writeFile(zone, "51000\n"); err != nil {
		t.Fatal(err)
	}
	th := CPUThermometer{Command: "definitely-not-vcgencmd", ZonePath: zone}
	got, err := th.ReadReferenceTemperature(context.Background())
	if err != nil {
		t.Fatalf("ReadReferenceTemperature: %v", err)
	}
	if got != 51 {
		t.Errorf("ReadReferenceTemperature = %v, want 51", got)
	}
}

func TestGasResistance(t *testing.T) {
	got, err := gasResistance(1.65)
	if err != nil {
		t.Fatalf("gasResistance: %v", err)
	}
	if math.Abs(got-56000) > 1e-6 {
		t.Errorf("gasResistance(1.65) = %v, want 56000", got)
	}
	if _, err := gasResistance(3.3); err == nil {
		t.Error("gasResistance(3.3) error = nil, want error")
	}
}

func TestLTR559Lux(t *testing.T) {
	if got := ltr559Lux(0, 0); got != 0 {
		t.Errorf("dark: got %v, want 0", got)
	}
	// ratio 20% selects the first coefficient band.
	got := ltr559Lux(800, 200)
	want := (800*17743.0 + 200*11059.0) / 10000
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("ltr559Lux(800, 200) = %v, want %v", got, want)
	}
}

func pmsFrame(pm1, pm25, pm10 uint16) []byte {
	frame := make([]byte, pmsFrameLen)
	frame[0], frame[1] = pmsStart0, pmsStart1
	binary.BigEndian.PutUint16(frame[2:4], pmsPayloadLen)
	binary.BigEndian.PutUint16(frame[4:6], pm1)
	binary.BigEndian.PutUint16(frame[6:8], pm25)
	binary.BigEndian.PutUint16(frame[8:10], pm10)
	var sum uint16
	for _, b := range frame[:pmsFrameLen-2] {
		sum += uint16(b)
	}
	binary.BigEndian.PutUint16(frame[pmsFrameLen-2:], sum)
	return frame
}

func TestReadPMSFrame(t *testing.T) {
	stream := append([]byte{0x00, 0x42, 0x11}, pmsFrame(4, 7, 9)...)
	got, err := readPMSFrame(bufio.NewReader(bytes.NewReader(stream)))
	if err != nil {
		t.Fatalf("readPMSFrame: %v", err)
	}
	want := sensor.ParticulateReading{PM1: 4, PM25: 7, PM10: 9}
	if got != want {
		t.Errorf("readPMSFrame = %+v, want %+v", got, want)
	}
}

func TestReadPMSFrame_UsesStandardWords(t *testing.T) {
	frame := pmsFrame(4, 7, 9)
	// Atmospheric words 3-5 differ from the CF=1 standard words 0-2.
	binary.BigEndian.PutUint16(frame[10:12], 40)
	binary.BigEndian.PutUint16(frame[12:14], 70)
	binary.BigEndian.PutUint16(frame[14:16], 90)
	var sum uint16
	for _, b := range frame[:pmsFrameLen-2] {
		sum += uint16(b)
	}
	binary.BigEndian.PutUint16(frame[pmsFrameLen-2:], sum)

	got, err := readPMSFrame(bufio.NewReader(bytes.NewReader(frame)))
	if err != nil {
		t.Fatalf("readPMSFrame: %v", err)
	}
	if want := (sensor.ParticulateReading{PM1: 4, PM25: 7, PM10: 9}); got != want {
		t.Errorf("readPMSFrame = %+v, want %+v", got, want)
	}
}

func TestReadPMSFrame_ChecksumMismatch(t *testing.T) {
	frame := pmsFrame(4, 7, 9)
	frame[6] ^= 0xFF
	_, err := readPMSFrame(bufio.NewReader(bytes.NewReader(frame)))
	if !errors.Is(err, sensor.ErrChecksum) {
		t.Fatalf("err = %v, want ErrChecksum", err)
	}
}

func TestParticulateSensor_TimesOutWithoutFrames(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	pm := NewParticulateSensor(r)
	defer pm.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := pm.ReadParticulates(ctx)
	if !errors.Is(err, sensor.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestParticulateSensor_DeliversFrame(t *testing.T) {
	r, w := io.Pipe()
	pm := NewParticulateSensor(r)
	defer pm.Close()

	go func() {
		_, _ = w.Write(pmsFrame(1, 2, 3))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := pm.ReadParticulates(ctx)
	if err != nil {
		t.Fatalf("ReadParticulates: %v", err)
	}
	if got.PM25 != 2 {
		t.Errorf("PM25 = %v, want 2", got.PM25)
	}
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
