// SenseMy IoT - LoRaWAN Uplink Ingestion and Enrichment
// Copyright 2026 C. Paumelle (cpaumelle)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cpaumelle/sensemy-iot-platform

package enrichment

import (
	"context"
	"time"

	"github.com/cpaumelle/sensemy-iot-platform/internal/logging"
	"github.com/cpaumelle/sensemy-iot-platform/internal/metrics"
)

// Run processes pending uplinks in batches until ctx is cancelled. It is
// the safety net behind the synchronous forwarder: anything the forwarder
// dropped (full queue, crash, transient storage fault) is picked up here.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.SweepInterval)
	defer ticker.Stop()

	logging.Info().
		Dur("interval", o.cfg.SweepInterval).
		Int("batch_size", o.cfg.SweepBatchSize).
		Bool("retry_failed_unpacks", o.cfg.RetryFailedUnpacks).
		Msg("Enrichment sweep started")

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Enrichment sweep stopped")
			return
		case <-ticker.C:
			o.sweep(ctx)
		}
	}
}

func (o *Orchestrator) sweep(ctx context.Context) {
	pending, err := o.store.ListPendingUplinks(ctx, o.cfg.SweepBatchSize)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to list pending uplinks")
		return
	}

	var failed int
	for _, up := range pending {
		if ctx.Err() != nil {
			return
		}
		if err := o.Process(ctx, up); err != nil {
			failed++
			logging.Warn().Err(err).
				Str("uplink_uuid", up.UplinkUUID.String()).
				Msg("Sweep enrichment failed, will retry")
		}
	}
	if len(pending) > 0 {
		logging.Debug().
			Int("processed", len(pending)-failed).
			Int("failed", failed).
			Msg("Enrichment sweep batch complete")
	}

	if o.cfg.RetryFailedUnpacks {
		o.retryFailedUnpacks(ctx)
	}

	if backlog, err := o.store.CountPendingUplinks(ctx); err == nil {
		metrics.EnrichmentBacklog.Set(float64(backlog))
	}
}

// retryFailedUnpacks re-runs the decode stage of uplinks whose last
// outcome was a decode failure. Useful after a decoder fix ships. The
// claim is still held from the first pass and the context step already has
// its audit entry, so only the decode stage runs again.
func (o *Orchestrator) retryFailedUnpacks(ctx context.Context) {
	stuck, err := o.store.ListFailedUnpackUplinks(ctx, o.cfg.SweepBatchSize)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to list failed-unpack uplinks")
		return
	}

	for _, up := range stuck {
		if ctx.Err() != nil {
			return
		}
		if err := o.RetryDecode(ctx, up); err != nil {
			logging.Warn().Err(err).
				Str("uplink_uuid", up.UplinkUUID.String()).
				Msg("Decode retry failed")
		}
	}
}

// RunGatewaySweep marks gateways offline when they have not relayed an
// uplink within the configured window. Runs until ctx is cancelled.
func (o *Orchestrator) RunGatewaySweep(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.GatewaySweepInterval)
	defer ticker.Stop()

	logging.Info().
		Dur("interval", o.cfg.GatewaySweepInterval).
		Dur("offline_after", o.cfg.GatewayOfflineAfter).
		Msg("Gateway liveness sweep started")

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Gateway liveness sweep stopped")
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-o.cfg.GatewayOfflineAfter)
			n, err := o.store.MarkStaleGatewaysOffline(ctx, cutoff)
			if err != nil {
				logging.Error().Err(err).Msg("Gateway offline sweep failed")
				continue
			}
			if n > 0 {
				metrics.GatewaysMarkedOffline.Add(float64(n))
				logging.Info().Int64("count", n).Msg("Marked stale gateways offline")
			}
		}
	}
}
