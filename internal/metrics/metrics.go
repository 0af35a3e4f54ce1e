// SenseMy IoT - LoRaWAN Uplink Ingestion and Enrichment
// Copyright 2026 C. Paumelle (cpaumelle)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cpaumelle/sensemy-iot-platform

// Package metrics provides Prometheus instrumentation for the ingest and
// enrichment pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingest metrics

	UplinksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uplinks_received_total",
			Help: "Total uplinks received by the webhook, by source and outcome",
		},
		[]string{"source", "outcome"}, // outcome: "accepted", "duplicate", "rejected"
	)

	UplinkParseErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uplink_parse_errors_total",
			Help: "Total webhook bodies that failed source detection or parsing",
		},
		[]string{"source"}, // "unknown" when detection failed
	)

	// Enrichment metrics

	EnrichmentOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrichment_outcomes_total",
			Help: "Terminal enrichment outcomes per uplink",
		},
		[]string{"step", "status"},
	)

	EnrichmentDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "enrichment_duration_seconds",
			Help:    "Time to take one uplink through the enrichment state machine",
			Buckets: prometheus.DefBuckets,
		},
	)

	EnrichmentBacklog = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "enrichment_backlog",
			Help: "Unprocessed raw uplinks awaiting enrichment",
		},
	)

	DecodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payload_decode_duration_seconds",
			Help:    "Payload decoder execution time by unpacker",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"unpacker"},
	)

	// Forwarder metrics

	ForwarderQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "forwarder_queue_depth",
			Help: "Uplinks waiting in the forwarder queue",
		},
	)

	ForwarderDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forwarder_deliveries_total",
			Help: "Forwarder delivery attempts by sink and outcome",
		},
		[]string{"sink", "outcome"}, // sink: "enrichment", "nats", "mqtt"
	)

	// Gateway metrics

	GatewaysMarkedOffline = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateways_marked_offline_total",
			Help: "Gateways aged out by the offline sweep",
		},
	)
)

// RecordEnrichment records a terminal enrichment outcome with its duration.
func RecordEnrichment(step, status string, start time.Time) {
	EnrichmentOutcomes.WithLabelValues(step, status).Inc()
	EnrichmentDuration.Observe(time.Since(start).Seconds())
}

// RecordDecode records one decoder execution.
func RecordDecode(unpacker string, start time.Time) {
	DecodeDuration.WithLabelValues(unpacker).Observe(time.Since(start).Seconds())
}
