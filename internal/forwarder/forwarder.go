// SenseMy IoT - LoRaWAN Uplink Ingestion and Enrichment
// Copyright 2026 C. Paumelle (cpaumelle)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cpaumelle/sensemy-iot-platform

// Package forwarder hands accepted uplinks from the ingress webhook to the
// enrichment orchestrator without blocking the HTTP response, and mirrors
// them to optional pub/sub sinks.
//
// Delivery is at-least-once but not guaranteed here: the queue is bounded
// and a full queue drops the handoff. That is acceptable because every
// accepted uplink is already durable in the raw store with
// processed = FALSE, so the enrichment sweep picks up anything the
// forwarder missed.
package forwarder

import (
	"context"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff/v4"

	"github.com/cpaumelle/sensemy-iot-platform/internal/config"
	"github.com/cpaumelle/sensemy-iot-platform/internal/logging"
	"github.com/cpaumelle/sensemy-iot-platform/internal/metrics"
	"github.com/cpaumelle/sensemy-iot-platform/internal/models"
)

// Processor takes one uplink through enrichment.
type Processor interface {
	Process(ctx context.Context, up *models.RawUplink) error
}

// Sink is an optional mirror destination for accepted uplinks. Sink
// failures are logged and counted but never fail the pipeline.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, up *models.RawUplink) error
	Close() error
}

// Forwarder runs a bounded worker pool that drains the handoff queue.
type Forwarder struct {
	processor Processor
	sinks     []Sink
	cfg       config.ForwarderConfig

	queue chan *models.RawUplink
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New creates a Forwarder. Sinks may be empty.
func New(p Processor, cfg config.ForwarderConfig, sinks ...Sink) *Forwarder {
	return &Forwarder{
		processor: p,
		sinks:     sinks,
		cfg:       cfg,
		queue:     make(chan *models.RawUplink, cfg.QueueSize),
	}
}

// Enqueue offers an uplink to the worker pool. It never blocks: when the
// queue is full the uplink is dropped and left to the enrichment sweep.
// Returns false on drop.
func (f *Forwarder) Enqueue(up *models.RawUplink) bool {
	// The send must stay under the lock: Run closes the queue under the
	// same lock, so a send can never race the close.
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}

	select {
	case f.queue <- up:
		metrics.ForwarderQueueDepth.Set(float64(len(f.queue)))
		return true
	default:
		logging.Warn().
			Str("uplink_uuid", up.UplinkUUID.String()).
			Msg("Forwarder queue full, uplink left for sweep")
		return false
	}
}

// Run starts the worker pool and blocks until ctx is cancelled and all
// workers have drained.
func (f *Forwarder) Run(ctx context.Context) {
	logging.Info().
		Int("workers", f.cfg.Workers).
		Int("queue_size", f.cfg.QueueSize).
		Int("sinks", len(f.sinks)).
		Msg("Forwarder started")

	for i := 0; i < f.cfg.Workers; i++ {
		f.wg.Add(1)
		go f.worker(ctx)
	}
	<-ctx.Done()

	f.mu.Lock()
	f.closed = true
	close(f.queue)
	f.mu.Unlock()
	f.wg.Wait()

	for _, sink := range f.sinks {
		if err := sink.Close(); err != nil {
			logging.Warn().Err(err).Str("sink", sink.Name()).Msg("Sink close failed")
		}
	}
	logging.Info().Msg("Forwarder stopped")
}

func (f *Forwarder) worker(ctx context.Context) {
	defer f.wg.Done()
	for up := range f.queue {
		metrics.ForwarderQueueDepth.Set(float64(len(f.queue)))
		f.deliver(ctx, up)
	}
}

func (f *Forwarder) deliver(ctx context.Context, up *models.RawUplink) {
	if err := f.processWithRetry(ctx, up); err != nil {
		// The raw row still has processed = FALSE (or a released claim),
		// so the sweep will retry. Nothing is lost.
		metrics.ForwarderDeliveries.WithLabelValues("enrichment", "failed").Inc()
		logging.Warn().Err(err).
			Str("uplink_uuid", up.UplinkUUID.String()).
			Msg("Forwarder enrichment handoff failed, deferring to sweep")
	} else {
		metrics.ForwarderDeliveries.WithLabelValues("enrichment", "delivered").Inc()
	}

	for _, sink := range f.sinks {
		if err := sink.Deliver(ctx, up); err != nil {
			metrics.ForwarderDeliveries.WithLabelValues(sink.Name(), "failed").Inc()
			logging.Warn().Err(err).
				Str("sink", sink.Name()).
				Str("uplink_uuid", up.UplinkUUID.String()).
				Msg("Mirror delivery failed")
			continue
		}
		metrics.ForwarderDeliveries.WithLabelValues(sink.Name(), "delivered").Inc()
	}
}

// processWithRetry retries transient enrichment failures with bounded
// exponential backoff. Terminal outcomes (decode failure, lost claim)
// return nil from Process and are not retried.
func (f *Forwarder) processWithRetry(ctx context.Context, up *models.RawUplink) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.cfg.InitialBackoff
	bo.MaxInterval = f.cfg.MaxBackoff
	bo.MaxElapsedTime = 0 // bounded by retry count, not wall clock

	policy := backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(f.cfg.MaxRetries)), ctx)

	err := backoff.Retry(func() error {
		return f.processor.Process(ctx, up)
	}, policy)
	if err != nil {
		return fmt.Errorf("enrich after %d retries: %w", f.cfg.MaxRetries, err)
	}
	return nil
}

// QueueDepth reports the current queue backlog, for readiness checks.
func (f *Forwarder) QueueDepth() int {
	return len(f.queue)
}
