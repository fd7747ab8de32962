package enviroplus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

const thermalZonePath = "/sys/class/thermal/thermal_zone0/temp"

// CPUThermometer reads the SoC temperature with vcgencmd and falls back to
// the kernel thermal zone when the firmware tool is missing.
type CPUThermometer struct {
	// Command defaults to "vcgencmd".
	Command string
	// ZonePath defaults to the first thermal zone.
	ZonePath string
}

func (c CPUThermometer) ReadReferenceTemperature(ctx context.Context) (float64, error) {
	cmd := c.Command
	if cmd == "" {
		cmd = "vcgencmd"
	}
	out, err := exec.CommandContext(ctx, cmd, "measure_temp").Output()
	if err == nil {
		return parseVcgencmdTemp(string(out))
	}
	if !errors.Is(err, exec.ErrNotFound) {
		return 0, fmt.Errorf("%s measure_temp: %w", cmd, err)
	}

	path := c.ZonePath
	if path == "" {
		path = thermalZonePath
	}
	raw, zoneErr := os.ReadFile(path)
	if zoneErr != nil {
		return 0, fmt.Errorf("cpu temperature: %w", errors.Join(err, zoneErr))
	}
	return parseThermalZone(string(raw))
}

// parseVcgencmdTemp parses output such as "temp=48.3'C".
func parseVcgencmdTemp(out string) (float64, error) {
	out = strings.TrimSpace(out)
	start := strings.Index(out, "=")
	end := strings.LastIndex(out, "'")
	if start < 0 || end <= start {
		return 0, fmt.Errorf("unexpected vcgencmd output %q", out)
	}
	v, err := strconv.ParseFloat(out[start+1:end], 64)
	if err != nil {
		return 0, fmt.Errorf("parse vcgencmd output %q: %w", out, err)
	}
	return v, nil
}

// parseThermalZone parses the kernel value in millidegrees Celsius.
func parseThermalZone(raw string) (float64, error) {
	milli, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse thermal zone %q: %w", raw, err)
	}
	return float64(milli) / 1000, nil
}
