// SenseMy IoT - LoRaWAN Uplink Ingestion and Enrichment
// Copyright 2026 C. Paumelle (cpaumelle)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cpaumelle/sensemy-iot-platform

// Package main is the entry point for the SenseMy ingestion server.
//
// The server accepts LoRaWAN uplinks from four network-server providers
// (Actility ThingPark, Netmore, The Things Industries, ChirpStack) on a
// single webhook, persists them idempotently in DuckDB, and enriches them
// asynchronously: device twin resolution, payload decoding and an
// append-only audit trail.
//
// Startup order:
//
//  1. Configuration: Koanf v2 layered load (defaults → config.yaml → env)
//  2. Logging: zerolog, level/format from config
//  3. Database: embedded DuckDB, schema created on first run
//  4. Mirrors (optional): NATS JetStream and/or ChirpStack-format MQTT
//  5. Forwarder: bounded worker pool for webhook-to-enrichment handoff
//  6. Background loops: enrichment sweep, gateway liveness sweep
//  7. HTTP server: webhook, read API, health, Prometheus metrics
//
// Shutdown on SIGINT/SIGTERM drains in-flight HTTP requests, stops the
// sweeps and flushes the forwarder queue before closing the database.
//
// Example:
//
//	export DUCKDB_PATH=/data/sensemy.duckdb
//	export NATS_ENABLED=true
//	export NATS_URL=nats://localhost:4222
//	./sensemy-server
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cpaumelle/sensemy-iot-platform/internal/api"
	"github.com/cpaumelle/sensemy-iot-platform/internal/config"
	"github.com/cpaumelle/sensemy-iot-platform/internal/enrichment"
	"github.com/cpaumelle/sensemy-iot-platform/internal/forwarder"
	"github.com/cpaumelle/sensemy-iot-platform/internal/logging"
	"github.com/cpaumelle/sensemy-iot-platform/internal/mqtt"
	"github.com/cpaumelle/sensemy-iot-platform/internal/store"
	"github.com/cpaumelle/sensemy-iot-platform/internal/twinning"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("Server failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Msg("Starting SenseMy ingestion server")

	st, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("Store close failed")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sinks []forwarder.Sink
	if cfg.NATS.Enabled {
		mirror, err := forwarder.NewNATSMirror(ctx, cfg.NATS)
		if err != nil {
			return fmt.Errorf("init NATS mirror: %w", err)
		}
		sinks = append(sinks, mirror)
		logging.Info().Str("url", cfg.NATS.URL).Str("stream", cfg.NATS.StreamName).Msg("NATS mirror enabled")
	}
	if cfg.MQTT.Enabled {
		mirror, err := mqtt.NewMirror(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("init MQTT mirror: %w", err)
		}
		sinks = append(sinks, mirror)
		logging.Info().Str("broker", cfg.MQTT.BrokerURL).Msg("MQTT mirror enabled")
	}

	resolver := twinning.NewResolver(st)
	orchestrator := enrichment.New(st, resolver, cfg.Pipeline)
	fwd := forwarder.New(orchestrator, cfg.Forwarder, sinks...)

	var wg sync.WaitGroup
	runBackground := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
			logging.Debug().Str("loop", name).Msg("Background loop finished")
		}()
	}
	runBackground("forwarder", fwd.Run)
	runBackground("enrichment-sweep", orchestrator.Run)
	runBackground("gateway-sweep", orchestrator.RunGatewaySweep)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewServer(st, fwd, cfg.API).Router(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case err := <-serverErr:
		cancel()
		wg.Wait()
		return fmt.Errorf("http server: %w", err)
	}

	// Drain in-flight requests first so late webhook accepts still reach
	// the forwarder before it stops.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	cancel()
	wg.Wait()
	logging.Info().Msg("Server stopped")
	return nil
}
