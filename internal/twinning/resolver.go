// SenseMy IoT - LoRaWAN Uplink Ingestion and Enrichment
// Copyright 2026 C. Paumelle (cpaumelle)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cpaumelle/sensemy-iot-platform

// Package twinning resolves a device EUI to its twin: the device context
// row binding it to a device type and a place in the location hierarchy.
//
// First-seen devices are not an error. They are auto-registered as orphans
// (lifecycle unassigned, no type, no location) so operators can claim them
// later; the uplink that introduced them still flows through the pipeline.
package twinning

import (
	"context"
	"errors"
	"fmt"

	"github.com/cpaumelle/sensemy-iot-platform/internal/logging"
	"github.com/cpaumelle/sensemy-iot-platform/internal/models"
	"github.com/cpaumelle/sensemy-iot-platform/internal/store"
)

// Store is the subset of the persistence layer the resolver needs.
type Store interface {
	GetDeviceContext(ctx context.Context, deveui string) (*models.DeviceContext, error)
	CreateOrphanDevice(ctx context.Context, deveui string) (*models.DeviceContext, error)
	GetDeviceType(ctx context.Context, deviceTypeID int) (*models.DeviceType, error)
	TouchDeviceGateway(ctx context.Context, deveui, gatewayEUI string) error
}

// ResolutionError reports that twin resolution itself failed (storage
// fault, broken reference data). It is distinct from a device simply being
// unknown, which resolves successfully to a fresh orphan.
type ResolutionError struct {
	DevEUI string
	Err    error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("context resolution for %s: %v", e.DevEUI, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Resolution is the outcome of resolving a device twin.
type Resolution struct {
	Context    *models.DeviceContext
	DeviceType *models.DeviceType // nil when the device has no type
	Created    bool               // true when the device was auto-registered
}

// Resolver looks up device twins and auto-registers orphans.
type Resolver struct {
	store Store
}

// NewResolver creates a Resolver backed by the given store.
func NewResolver(s Store) *Resolver {
	return &Resolver{store: s}
}

// Resolve returns the twin for deveui, creating an orphan row if the device
// has never been seen. The relaying gateway, when known, is recorded on the
// twin as last_gateway.
//
// The twin's location references are taken as authoritative. Tree integrity
// is the management service's concern at assignment time; re-reading the
// location chain on every uplink would turn one bad row into a permanently
// stuck device. Resolution fails only when storage access fails.
func (r *Resolver) Resolve(ctx context.Context, deveui, gatewayEUI string) (*Resolution, error) {
	dc, err := r.store.GetDeviceContext(ctx, deveui)
	created := false

	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		dc, err = r.store.CreateOrphanDevice(ctx, deveui)
		if err != nil {
			return nil, &ResolutionError{DevEUI: deveui, Err: err}
		}
		created = true
		logging.Info().
			Str("deveui", deveui).
			Msg("Auto-registered orphan device")
	default:
		return nil, &ResolutionError{DevEUI: deveui, Err: err}
	}

	res := &Resolution{Context: dc, Created: created}

	if dc.DeviceTypeID != nil {
		dt, err := r.store.GetDeviceType(ctx, *dc.DeviceTypeID)
		switch {
		case err == nil:
			res.DeviceType = dt
		case errors.Is(err, store.ErrNotFound):
			// Dangling type reference: decode is impossible but the uplink
			// itself is fine. Treated like a typeless device.
			logging.Warn().
				Str("deveui", deveui).
				Int("device_type_id", *dc.DeviceTypeID).
				Msg("Device references unknown device type")
		default:
			return nil, &ResolutionError{DevEUI: deveui, Err: err}
		}
	}

	if gatewayEUI != "" {
		if err := r.store.TouchDeviceGateway(ctx, deveui, gatewayEUI); err != nil {
			// Stale last_gateway is tolerable; resolution still succeeds.
			logging.Warn().Err(err).
				Str("deveui", deveui).
				Msg("Failed to record last gateway on device twin")
		}
	}

	return res, nil
}
