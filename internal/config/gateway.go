package config

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	SensorSourceEnviroPlus = "enviroplus"
	SensorSourceSimulated  = "simulated"
)

type GatewayConfig struct {
	AppEnv   string
	LogLevel slog.Level
	MQTT     MQTTConfig

	SensorSource       string
	SensorPollInterval time.Duration
	CompensationFactor float64

	ParticulateEnabled bool
	ParticulateDevice  string
	ParticulateTimeout time.Duration

	// SimulatedParticulateFailEvery makes every Nth simulated particulate
	// read time out. Zero never fails.
	SimulatedParticulateFailEvery int

	I2CBus         string
	BME280Address  uint16
	ADS1015Address uint16
	LTR559Address  uint16
}

func LoadGateway() (GatewayConfig, error) {
	appEnv, level, err := loadAppEnv()
	if err != nil {
		return GatewayConfig{}, err
	}

	mqttCfg, err := loadMQTT("enviro-gateway")
	if err != nil {
		return GatewayConfig{}, err
	}

	source := strings.ToLower(lookup("SENSOR_SOURCE", SensorSourceEnviroPlus))
	switch source {
	case SensorSourceEnviroPlus, SensorSourceSimulated:
	default:
		return GatewayConfig{}, fmt.Errorf("invalid SENSOR_SOURCE %q (allowed: enviroplus, simulated)", source)
	}

	pollInterval, err := parsePositiveDuration("SENSOR_POLL_INTERVAL", "1s")
	if err != nil {
		return GatewayConfig{}, err
	}

	factorStr := lookup("COMPENSATION_FACTOR", "2.25")
	factor, err := strconv.ParseFloat(factorStr, 64)
	if err != nil {
		return GatewayConfig{}, fmt.Errorf("invalid COMPENSATION_FACTOR %q: %w", factorStr, err)
	}
	if !(factor > 0) || math.IsInf(factor, 0) {
		return GatewayConfig{}, fmt.Errorf("COMPENSATION_FACTOR must be a positive number, got %v", factor)
	}

	pmEnabled, err := parseBool("PARTICULATE_ENABLED", "true")
	if err != nil {
		return GatewayConfig{}, err
	}
	pmTimeout, err := parsePositiveDuration("PARTICULATE_TIMEOUT", "2s")
	if err != nil {
		return GatewayConfig{}, err
	}

	failEvery, err := parseInt("SIMULATED_PARTICULATE_FAIL_EVERY", "0")
	if err != nil {
		return GatewayConfig{}, err
	}
	if failEvery < 0 {
		return GatewayConfig{}, fmt.Errorf("SIMULATED_PARTICULATE_FAIL_EVERY must not be negative, got %d", failEvery)
	}

	bme, err := parseI2CAddress("BME280_ADDRESS", "0x76")
	if err != nil {
		return GatewayConfig{}, err
	}
	ads, err := parseI2CAddress("ADS1015_ADDRESS", "0x49")
	if err != nil {
		return GatewayConfig{}, err
	}
	ltr, err := parseI2CAddress("LTR559_ADDRESS", "0x23")
	if err != nil {
		return GatewayConfig{}, err
	}

	return GatewayConfig{
		AppEnv:                        appEnv,
		LogLevel:                      level,
		MQTT:                          mqttCfg,
		SensorSource:                  source,
		SensorPollInterval:            pollInterval,
		CompensationFactor:            factor,
		ParticulateEnabled:            pmEnabled,
		ParticulateDevice:             lookup("PARTICULATE_DEVICE", "/dev/ttyAMA0"),
		ParticulateTimeout:            pmTimeout,
		SimulatedParticulateFailEvery: failEvery,
		I2CBus:                        strings.TrimSpace(os.Getenv("I2C_BUS")),
		BME280Address:                 bme,
		ADS1015Address:                ads,
		LTR559Address:                 ltr,
	}, nil
}
