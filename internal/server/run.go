// Package server runs the consumer side: subscribe, validate, persist, and
// serve health and read endpoints.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"enviro-telemetry/internal/config"
	"enviro-telemetry/internal/db"
	"enviro-telemetry/internal/httpapi"
	"enviro-telemetry/internal/listener"
	"enviro-telemetry/internal/migrate"
	"enviro-telemetry/internal/mqtt"
	"enviro-telemetry/internal/session"
	"enviro-telemetry/internal/store"
)

func Run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"dbDriver", cfg.DB.Driver,
		"sqlitePath", cfg.DB.SQLitePath,
		"dbMaxOpenConns", cfg.DB.MaxOpenConns,
		"dbMaxIdleConns", cfg.DB.MaxIdleConns,
		"dbConnMaxLifetime", cfg.DB.ConnMaxLifetime,
		"mqttBroker", cfg.MQTT.Broker,
		"mqttPort", cfg.MQTT.Port,
		"mqttTopic", cfg.MQTT.Topic,
	)

	dbConn, dialect, err := db.Open(ctx, cfg.DB, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(dbConn); closeErr != nil {
			logger.Error("db close", "error", closeErr)
		}
	}()

	if err := migrate.Run(ctx, dbConn, dialect, logger); err != nil {
		return err
	}
	logger.Info("database ready", "dialect", string(dialect))

	writer := store.NewWriter(dbConn, dialect)

	client := mqtt.NewClient(mqtt.OptionsFromConfig(cfg.MQTT), logger)
	sv := session.New("listener", session.Options{RetryInterval: cfg.MQTT.RetryInterval}, logger)
	lst := listener.New(client, sv, writer, listener.Options{Topic: cfg.MQTT.Topic, QoS: cfg.MQTT.QoS}, logger)

	mux := httpapi.NewMux(httpapi.Deps{
		DB:        writer,
		Reader:    writer,
		Connected: client.IsConnected,
	}, logger)
	srv := httpapi.NewServer(cfg.HTTPAddr, mux, logger)

	listenCtx, stopListener := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		stopListener()
		wg.Wait()
	}()

	// A broker outage does not stop the HTTP side.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := lst.Run(listenCtx); err != nil {
			logger.Error("listener stopped", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	logger.Info("mqtt disconnecting")
	stopListener()
	wg.Wait()

	logger.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	err = <-errCh
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return ctx.Err()
}
