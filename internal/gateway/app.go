package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"enviro-telemetry/internal/assembler"
	"enviro-telemetry/internal/config"
	"enviro-telemetry/internal/mqtt"
	"enviro-telemetry/internal/publisher"
	"enviro-telemetry/internal/sensor"
	"enviro-telemetry/internal/sensor/enviroplus"
	"enviro-telemetry/internal/sensor/simulated"
	"enviro-telemetry/internal/session"
)

// Run wires the board, the assembler and the publisher, then samples until
// ctx is done.
func Run(ctx context.Context, cfg config.GatewayConfig, logger *slog.Logger) error {
	logger.Info("initializing gateway",
		"mqtt_broker", cfg.MQTT.Broker,
		"mqtt_port", cfg.MQTT.Port,
		"mqtt_client_id", cfg.MQTT.ClientID,
		"mqtt_topic", cfg.MQTT.Topic,
		"sensor_source", cfg.SensorSource,
	)

	board, err := openBoard(cfg, logger)
	if err != nil {
		return fmt.Errorf("open sensors: %w", err)
	}
	if board.Close != nil {
		defer func() {
			if err := board.Close(); err != nil {
				logger.Warn("failed to release sensors", "error", err)
			}
		}()
	}

	asm, err := assembler.New(board, assembler.Options{
		Factor:             cfg.CompensationFactor,
		ParticulateTimeout: cfg.ParticulateTimeout,
	}, logger)
	if err != nil {
		return err
	}

	client := mqtt.NewClient(mqtt.OptionsFromConfig(cfg.MQTT), logger)
	sv := session.New("publisher", session.Options{RetryInterval: cfg.MQTT.RetryInterval}, logger)
	pub := publisher.New(client, sv, publisher.Options{Topic: cfg.MQTT.Topic, QoS: cfg.MQTT.QoS}, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := pub.Run(ctx); err != nil {
			logger.Error("publisher stopped", "error", err)
		}
	}()

	err = NewProducer(asm, pub, cfg.SensorPollInterval, logger).Run(ctx)
	wg.Wait()

	logger.Info("gateway shutting down")
	return err
}

func openBoard(cfg config.GatewayConfig, logger *slog.Logger) (sensor.Board, error) {
	switch cfg.SensorSource {
	case config.SensorSourceSimulated:
		logger.Info("using simulated sensors",
			"particulates", cfg.ParticulateEnabled,
			"particulate_fail_every", cfg.SimulatedParticulateFailEvery,
		)
		return simulated.New(simulated.Options{
			ParticulateFailEvery: cfg.SimulatedParticulateFailEvery,
			WithoutParticulates:  !cfg.ParticulateEnabled,
		}), nil
	case config.SensorSourceEnviroPlus:
		device := cfg.ParticulateDevice
		if !cfg.ParticulateEnabled {
			device = ""
		}
		return enviroplus.Open(enviroplus.Options{
			I2CBus:            cfg.I2CBus,
			BME280Address:     cfg.BME280Address,
			ADS1015Address:    cfg.ADS1015Address,
			LTR559Address:     cfg.LTR559Address,
			ParticulateDevice: device,
		}, logger)
	default:
		return sensor.Board{}, fmt.Errorf("unknown sensor source %q", cfg.SensorSource)
	}
}
