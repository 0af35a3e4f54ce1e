// SenseMy IoT - LoRaWAN Uplink Ingestion and Enrichment
// Copyright 2026 C. Paumelle (cpaumelle)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cpaumelle/sensemy-iot-platform

// Package enrichment drives accepted uplinks through the enrichment state
// machine: claim the uplink, resolve its device twin, decode the payload
// and land the result in the processed store, writing an audit entry for
// every step taken.
//
// Outcomes per uplink:
//   - CONTEXT_ENRICHED/SUCCESS then UNPACKED/SUCCESS: full enrichment
//   - CONTEXT_ENRICHED/SKIPPED: device has no location assignment; the
//     processed row is written with null location columns
//   - UNPACKED/SKIPPED: device has no decoder; the processed row is written
//     without decoded fields
//   - FAILED_UNPACK/FAILED: the decoder rejected the payload; only the
//     audit entry is written
//   - FAILED/FAILED: twin resolution or storage failed; the claim is
//     released so a later sweep retries
package enrichment

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/cpaumelle/sensemy-iot-platform/internal/config"
	"github.com/cpaumelle/sensemy-iot-platform/internal/logging"
	"github.com/cpaumelle/sensemy-iot-platform/internal/metrics"
	"github.com/cpaumelle/sensemy-iot-platform/internal/models"
	"github.com/cpaumelle/sensemy-iot-platform/internal/twinning"
	"github.com/cpaumelle/sensemy-iot-platform/internal/unpack"
)

// Store is the subset of the persistence layer the orchestrator needs.
type Store interface {
	ClaimForProcessing(ctx context.Context, id uuid.UUID) (bool, error)
	ReleaseClaim(ctx context.Context, id uuid.UUID) error
	ListPendingUplinks(ctx context.Context, limit int) ([]*models.RawUplink, error)
	ListFailedUnpackUplinks(ctx context.Context, limit int) ([]*models.RawUplink, error)
	CountPendingUplinks(ctx context.Context) (int64, error)
	InsertProcessedUplink(ctx context.Context, up *models.ProcessedUplink) error
	AppendEnrichmentLog(ctx context.Context, entry *models.EnrichmentLogEntry) error
	UpsertGatewaySeen(ctx context.Context, gatewayEUI string, seenAt time.Time) error
	MarkStaleGatewaysOffline(ctx context.Context, cutoff time.Time) (int64, error)
}

// Resolver resolves device twins.
type Resolver interface {
	Resolve(ctx context.Context, deveui, gatewayEUI string) (*twinning.Resolution, error)
}

// Orchestrator runs the enrichment state machine.
type Orchestrator struct {
	store    Store
	resolver Resolver
	cfg      config.PipelineConfig
}

// New creates an Orchestrator.
func New(s Store, r Resolver, cfg config.PipelineConfig) *Orchestrator {
	return &Orchestrator{store: s, resolver: r, cfg: cfg}
}

// Process takes one raw uplink through the state machine. It is safe to
// call concurrently for the same uplink: the claim ensures one winner and
// everyone else returns immediately.
func (o *Orchestrator) Process(ctx context.Context, up *models.RawUplink) error {
	claimed, err := o.store.ClaimForProcessing(ctx, up.UplinkUUID)
	if err != nil {
		return fmt.Errorf("claim %s: %w", up.UplinkUUID, err)
	}
	if !claimed {
		return nil
	}

	start := time.Now()
	if err := o.enrich(ctx, up, start); err != nil {
		// Not a terminal outcome: put the uplink back for a later sweep.
		if releaseErr := o.store.ReleaseClaim(ctx, up.UplinkUUID); releaseErr != nil {
			logging.Error().Err(releaseErr).
				Str("uplink_uuid", up.UplinkUUID.String()).
				Msg("Failed to release enrichment claim")
		}
		return err
	}
	return nil
}

func (o *Orchestrator) enrich(ctx context.Context, up *models.RawUplink, start time.Time) error {
	res, err := o.resolver.Resolve(ctx, up.DevEUI, up.GatewayEUI)
	if err != nil {
		o.log(ctx, up.UplinkUUID, models.StepFailed, models.StatusFailed,
			fmt.Sprintf("context resolution failed: %v", err))
		metrics.RecordEnrichment(string(models.StepFailed), string(models.StatusFailed), start)
		return fmt.Errorf("resolve %s: %w", up.DevEUI, err)
	}

	dc := res.Context
	contextStatus := models.StatusSuccess
	contextDetail := "context resolved"
	if res.Created {
		contextDetail = "no matching device context found, orphan registered"
	}
	if !dc.Assigned() {
		contextStatus = models.StatusSkipped
	}
	o.log(ctx, up.UplinkUUID, models.StepContextEnriched, contextStatus, contextDetail)

	return o.decodeAndStore(ctx, up, res, start)
}

// RetryDecode re-runs only the decode stage of a claimed uplink whose last
// attempt ended in FAILED_UNPACK. The context step already has its audit
// entry from the first pass, so none is written here; a fresh twin lookup
// picks up any decoder fix that happened since.
func (o *Orchestrator) RetryDecode(ctx context.Context, up *models.RawUplink) error {
	res, err := o.resolver.Resolve(ctx, up.DevEUI, up.GatewayEUI)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", up.DevEUI, err)
	}
	return o.decodeAndStore(ctx, up, res, time.Now())
}

// decodeAndStore runs the decode stage and lands the processed row. It is
// shared by the first enrichment pass and by decode retries.
func (o *Orchestrator) decodeAndStore(ctx context.Context, up *models.RawUplink, res *twinning.Resolution, start time.Time) error {
	dc := res.Context
	processed := &models.ProcessedUplink{
		UplinkUUID:   up.UplinkUUID,
		DevEUI:       up.DevEUI,
		Timestamp:    up.ReceivedAt,
		FPort:        up.FPort,
		Metadata:     up.Metadata,
		DeviceTypeID: dc.DeviceTypeID,
		SiteID:       dc.SiteID,
		FloorID:      dc.FloorID,
		RoomID:       dc.RoomID,
		ZoneID:       dc.ZoneID,
		GatewayEUI:   up.GatewayEUI,
		Source:       up.Source,
	}

	payload, err := hex.DecodeString(up.Payload)
	if err != nil {
		// Raw rows are written from validated canonical uplinks; a bad hex
		// string here means corruption, which no retry fixes.
		o.log(ctx, up.UplinkUUID, models.StepFailedUnpack, models.StatusFailed,
			fmt.Sprintf("stored payload is not valid hex: %v", err))
		metrics.RecordEnrichment(string(models.StepFailedUnpack), string(models.StatusFailed), start)
		return nil
	}
	processed.Payload = payload

	unpackStep := models.StepUnpacked
	unpackStatus := models.StatusSkipped

	switch {
	case res.DeviceType == nil:
		o.log(ctx, up.UplinkUUID, models.StepUnpacked, models.StatusSkipped, "device has no type, payload not decoded")
	case res.DeviceType.Unpacker == "":
		o.log(ctx, up.UplinkUUID, models.StepUnpacked, models.StatusSkipped,
			fmt.Sprintf("device type %q has no unpacker", res.DeviceType.DeviceType))
	default:
		decoded, decodeErr := o.decode(ctx, res.DeviceType.Unpacker, payload, up.FPort)
		if decodeErr != nil {
			var derr *unpack.DecodeError
			if errors.As(decodeErr, &derr) || errors.Is(decodeErr, unpack.ErrUnknownUnpacker) {
				o.log(ctx, up.UplinkUUID, models.StepFailedUnpack, models.StatusFailed, decodeErr.Error())
				metrics.RecordEnrichment(string(models.StepFailedUnpack), string(models.StatusFailed), start)
				// Terminal: no processed row, claim stays taken.
				return nil
			}
			return fmt.Errorf("decode %s: %w", up.UplinkUUID, decodeErr)
		}
		processed.PayloadDecoded = decoded
		unpackStatus = models.StatusSuccess
		o.log(ctx, up.UplinkUUID, models.StepUnpacked, models.StatusSuccess,
			fmt.Sprintf("payload decoded by %q", res.DeviceType.Unpacker))
	}

	if up.GatewayEUI != "" {
		if err := o.store.UpsertGatewaySeen(ctx, up.GatewayEUI, up.ReceivedAt); err != nil {
			logging.Warn().Err(err).
				Str("gateway_eui", up.GatewayEUI).
				Msg("Failed to record gateway sighting")
		}
	}

	if err := o.store.InsertProcessedUplink(ctx, processed); err != nil {
		return fmt.Errorf("store processed uplink %s: %w", up.UplinkUUID, err)
	}

	metrics.RecordEnrichment(string(unpackStep), string(unpackStatus), start)
	logging.Debug().
		Str("uplink_uuid", up.UplinkUUID.String()).
		Str("deveui", up.DevEUI).
		Str("status", string(unpackStatus)).
		Msg("Uplink enriched")
	return nil
}

func (o *Orchestrator) decode(ctx context.Context, unpacker string, payload []byte, fport int) (json.RawMessage, error) {
	decodeCtx, cancel := context.WithTimeout(ctx, o.cfg.DecodeTimeout)
	defer cancel()

	start := time.Now()
	fields, err := unpack.Decode(decodeCtx, unpacker, payload, fport)
	metrics.RecordDecode(unpacker, start)
	if err != nil {
		return nil, err
	}

	decoded, err := json.Marshal(fields)
	if err != nil {
		return nil, &unpack.DecodeError{Unpacker: unpacker, Reason: fmt.Sprintf("marshal decoded fields: %v", err)}
	}
	return decoded, nil
}

func (o *Orchestrator) log(ctx context.Context, id uuid.UUID, step models.EnrichmentStep, status models.EnrichmentStatus, detail string) {
	entry := &models.EnrichmentLogEntry{
		UplinkUUID: id,
		Step:       step,
		Status:     status,
		Detail:     detail,
	}
	if err := o.store.AppendEnrichmentLog(ctx, entry); err != nil {
		logging.Error().Err(err).
			Str("uplink_uuid", id.String()).
			Str("step", string(step)).
			Msg("Failed to append enrichment log")
	}
}
