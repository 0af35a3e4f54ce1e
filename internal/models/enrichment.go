// SenseMy IoT - LoRaWAN Uplink Ingestion and Enrichment
// Copyright 2026 C. Paumelle (cpaumelle)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cpaumelle/sensemy-iot-platform

package models

import (
	"time"

	"github.com/google/uuid"
)

// EnrichmentStep identifies a stage transition in the per-uplink state
// machine: RECEIVED → CONTEXT_ENRICHED → UNPACKED, or → FAILED /
// FAILED_UNPACK at either stage.
type EnrichmentStep string

// Enrichment pipeline steps.
const (
	StepContextEnriched EnrichmentStep = "CONTEXT_ENRICHED"
	StepUnpacked        EnrichmentStep = "UNPACKED"
	StepFailed          EnrichmentStep = "FAILED"
	StepFailedUnpack    EnrichmentStep = "FAILED_UNPACK"
)

// Valid reports whether s is a known pipeline step.
func (s EnrichmentStep) Valid() bool {
	switch s {
	case StepContextEnriched, StepUnpacked, StepFailed, StepFailedUnpack:
		return true
	}
	return false
}

// EnrichmentStatus is the result of a pipeline step.
type EnrichmentStatus string

// Enrichment step outcomes. SKIPPED means "resolved with no assignment":
// the step ran but had nothing to do (untwinned device, null device type).
const (
	StatusSuccess EnrichmentStatus = "SUCCESS"
	StatusFailed  EnrichmentStatus = "FAILED"
	StatusPending EnrichmentStatus = "PENDING"
	StatusSkipped EnrichmentStatus = "SKIPPED"
)

// Valid reports whether s is a known step status.
func (s EnrichmentStatus) Valid() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusPending, StatusSkipped:
		return true
	}
	return false
}

// EnrichmentLogEntry is one append-only audit row. For a given uplink the
// entries form a monotonically advancing sequence; the pipeline never
// writes two SUCCESS entries for the same step.
type EnrichmentLogEntry struct {
	LogID      uuid.UUID        `json:"log_id"`
	UplinkUUID uuid.UUID        `json:"uplink_uuid"`
	Step       EnrichmentStep   `json:"step"`
	Status     EnrichmentStatus `json:"status"`
	Detail     string           `json:"detail,omitempty"`
	CreatedAt  time.Time        `json:"timestamp"`
}
