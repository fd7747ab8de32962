// Package config loads gateway and server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

type MQTTConfig struct {
	Broker        string
	Port          int
	ClientID      string
	Username      string
	Password      string
	Topic         string
	QoS           byte
	KeepAlive     time.Duration
	RetryInterval time.Duration
}

// LoadEnvFile loads ENV_FILE (default .env) into the process environment.
// Variables already set win, and a missing file is not an error.
func LoadEnvFile() error {
	path := strings.TrimSpace(os.Getenv("ENV_FILE"))
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func loadAppEnv() (string, slog.Level, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return "", slog.LevelInfo, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	level, err := parseLogLevel(lookup("LOG_LEVEL", "info"))
	if err != nil {
		return "", slog.LevelInfo, err
	}
	return appEnv, level, nil
}

// loadMQTT reads the MQTT_* variables. clientPrefix names the default client
// id, which gets a random suffix so two processes never share one.
func loadMQTT(clientPrefix string) (MQTTConfig, error) {
	port, err := parseInt("MQTT_PORT", "1883")
	if err != nil {
		return MQTTConfig{}, err
	}
	if port < 1 || port > 65535 {
		return MQTTConfig{}, fmt.Errorf("MQTT_PORT must be 1-65535, got %d", port)
	}

	clientID := strings.TrimSpace(os.Getenv("MQTT_CLIENT_ID"))
	if clientID == "" {
		clientID = clientPrefix + "-" + uuid.NewString()[:8]
	}

	topic := lookup("MQTT_TOPIC", "data")
	if strings.ContainsAny(topic, "+#") {
		return MQTTConfig{}, fmt.Errorf("MQTT_TOPIC %q must not contain wildcards", topic)
	}

	qos, err := parseInt("MQTT_QOS", "0")
	if err != nil {
		return MQTTConfig{}, err
	}
	if qos < 0 || qos > 2 {
		return MQTTConfig{}, fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", qos)
	}

	keepAlive, err := parsePositiveDuration("MQTT_KEEPALIVE", "60s")
	if err != nil {
		return MQTTConfig{}, err
	}
	if keepAlive < time.Second {
		return MQTTConfig{}, fmt.Errorf("MQTT_KEEPALIVE must be at least 1s, got %v", keepAlive)
	}

	retry, err := parsePositiveDuration("MQTT_RETRY_INTERVAL", "3s")
	if err != nil {
		return MQTTConfig{}, err
	}

	return MQTTConfig{
		Broker:        lookup("MQTT_BROKER", "localhost"),
		Port:          port,
		ClientID:      clientID,
		Username:      strings.TrimSpace(os.Getenv("MQTT_USERNAME")),
		Password:      os.Getenv("MQTT_PASSWORD"),
		Topic:         topic,
		QoS:           byte(qos),
		KeepAlive:     keepAlive,
		RetryInterval: retry,
	}, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}

// lookup returns the trimmed value of key, or def when it is unset or blank.
func lookup(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func parseInt(key, def string) (int, error) {
	s := lookup(key, def)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return n, nil
}

func parseBool(key, def string) (bool, error) {
	s := lookup(key, def)
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return b, nil
}

func parseDuration(key, def string) (time.Duration, error) {
	s := lookup(key, def)
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return d, nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := parseDuration(key, def)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %v", key, d)
	}
	return d, nil
}

// parseI2CAddress accepts decimal or 0x-prefixed 7-bit addresses.
func parseI2CAddress(key, def string) (uint16, error) {
	s := lookup(key, def)
	n, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	if n > 0x7F {
		return 0, fmt.Errorf("%s %q is not a 7-bit i2c address", key, s)
	}
	return uint16(n), nil
}
