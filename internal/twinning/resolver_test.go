// SenseMy IoT - LoRaWAN Uplink Ingestion and Enrichment
// Copyright 2026 C. Paumelle (cpaumelle)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cpaumelle/sensemy-iot-platform

package twinning

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/cpaumelle/sensemy-iot-platform/internal/models"
	"github.com/cpaumelle/sensemy-iot-platform/internal/store"
)

// fakeStore is an in-memory Store for resolver tests.
type fakeStore struct {
	contexts map[string]*models.DeviceContext
	types    map[int]*models.DeviceType
	failWith error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		contexts: map[string]*models.DeviceContext{},
		types:    map[int]*models.DeviceType{},
	}
}

func (f *fakeStore) GetDeviceContext(_ context.Context, deveui string) (*models.DeviceContext, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	dc, ok := f.contexts[deveui]
	if !ok {
		return nil, store.ErrNotFound
	}
	return dc, nil
}

func (f *fakeStore) CreateOrphanDevice(_ context.Context, deveui string) (*models.DeviceContext, error) {
	dc := &models.DeviceContext{DevEUI: deveui, LifecycleState: models.LifecycleUnassigned}
	f.contexts[deveui] = dc
	return dc, nil
}

func (f *fakeStore) GetDeviceType(_ context.Context, id int) (*models.DeviceType, error) {
	dt, ok := f.types[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return dt, nil
}

func (f *fakeStore) TouchDeviceGateway(_ context.Context, deveui, gatewayEUI string) error {
	if dc, ok := f.contexts[deveui]; ok {
		dc.LastGateway = gatewayEUI
	}
	return nil
}

func TestResolveKnownDevice(t *testing.T) {
	fs := newFakeStore()
	typeID := 4
	fs.types[4] = &models.DeviceType{DeviceTypeID: 4, DeviceType: "Browan TBMS100", Unpacker: "browan_tbms100"}
	fs.contexts["58A0CB0000204D5E"] = &models.DeviceContext{
		DevEUI:         "58A0CB0000204D5E",
		DeviceTypeID:   &typeID,
		LifecycleState: models.LifecycleAssigned,
	}

	r := NewResolver(fs)
	res, err := r.Resolve(context.Background(), "58A0CB0000204D5E", "7076FF0064050123")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if res.Created {
		t.Error("known device reported as created")
	}
	if res.DeviceType == nil || res.DeviceType.Unpacker != "browan_tbms100" {
		t.Errorf("DeviceType = %+v", res.DeviceType)
	}
	if fs.contexts["58A0CB0000204D5E"].LastGateway != "7076FF0064050123" {
		t.Error("last gateway not recorded")
	}
}

func TestResolveUnknownDeviceCreatesOrphan(t *testing.T) {
	fs := newFakeStore()
	r := NewResolver(fs)

	res, err := r.Resolve(context.Background(), "A81758FFFE05ABCD", "")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if !res.Created {
		t.Error("first-seen device not reported as created")
	}
	if res.Context.LifecycleState != models.LifecycleUnassigned {
		t.Errorf("lifecycle = %q", res.Context.LifecycleState)
	}
	if res.DeviceType != nil {
		t.Errorf("orphan has DeviceType %+v", res.DeviceType)
	}

	// The orphan persists: a second resolution finds it.
	res, err = r.Resolve(context.Background(), "A81758FFFE05ABCD", "")
	if err != nil {
		t.Fatalf("second Resolve failed: %v", err)
	}
	if res.Created {
		t.Error("existing orphan reported as created again")
	}
}

func TestResolveDanglingTypeReference(t *testing.T) {
	fs := newFakeStore()
	typeID := 99
	fs.contexts["58A0CB0000204D5E"] = &models.DeviceContext{
		DevEUI:         "58A0CB0000204D5E",
		DeviceTypeID:   &typeID,
		LifecycleState: models.LifecycleAssigned,
	}

	res, err := NewResolver(fs).Resolve(context.Background(), "58A0CB0000204D5E", "")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	// Unknown type is tolerated: device acts as typeless.
	if res.DeviceType != nil {
		t.Errorf("DeviceType = %+v, want nil", res.DeviceType)
	}
}

func TestResolveStorageFault(t *testing.T) {
	fs := newFakeStore()
	fs.failWith = errors.New("connection reset")

	_, err := NewResolver(fs).Resolve(context.Background(), "58A0CB0000204D5E", "")
	var rerr *ResolutionError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected ResolutionError, got %v", err)
	}
	if rerr.DevEUI != "58A0CB0000204D5E" {
		t.Errorf("ResolutionError.DevEUI = %q", rerr.DevEUI)
	}
}

func TestResolveTreatsContextAsAuthoritative(t *testing.T) {
	// The twin's location references are passed through as stored, even
	// when the chain is stale (a floor reparented under another site by
	// the management service). Validating the tree here would turn one
	// bad row into an uplink that loops claim/release forever without
	// ever producing a processed row.
	fs := newFakeStore()
	siteID, floorID, roomID := uuid.New(), uuid.New(), uuid.New()
	fs.contexts["58A0CB0000204D5E"] = &models.DeviceContext{
		DevEUI:         "58A0CB0000204D5E",
		SiteID:         &siteID,
		FloorID:        &floorID,
		RoomID:         &roomID,
		LifecycleState: models.LifecycleAssigned,
	}

	res, err := NewResolver(fs).Resolve(context.Background(), "58A0CB0000204D5E", "")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !res.Context.Assigned() {
		t.Error("assigned device resolved as unassigned")
	}
	dc := res.Context
	if dc.SiteID == nil || *dc.SiteID != siteID || dc.FloorID == nil || *dc.FloorID != floorID || dc.RoomID == nil || *dc.RoomID != roomID {
		t.Errorf("location snapshot altered: %+v", dc)
	}
}
