// Package compensation corrects raw enviro readings before they are packed
// into a telemetry record.
package compensation

import "math"

// DefaultFactor offsets the self-heating of a Raspberry Pi sitting next to
// the BME280. It was tuned empirically; override it per enclosure.
const DefaultFactor = 2.25

// Compensate returns the ambient temperature after removing the heat bleeding
// in from the CPU: raw - (cpu-raw)/factor, truncated toward zero.
// factor must be positive.
func Compensate(raw, cpu, factor float64) int64 {
	return int64(raw - (cpu-raw)/factor)
}

// Pressure converts a reading in hPa to the canonical wire unit: Pascals
// truncated to whole Pascals, then rounded half-to-even to the nearest
// 10 Pa. 1013.25 hPa becomes 101320 and 1013.27 hPa becomes 101330.
//
// Older producers sent the raw hPa integer instead. The two are not
// interchangeable and the listener does not try to tell them apart.
func Pressure(hpa float64) int64 {
	pa := math.Trunc(hpa * 100)
	return int64(math.RoundToEven(pa/10) * 10)
}
