// SenseMy IoT - LoRaWAN Uplink Ingestion and Enrichment
// Copyright 2026 C. Paumelle (cpaumelle)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cpaumelle/sensemy-iot-platform

package models

import (
	"time"

	"github.com/google/uuid"
)

// LifecycleState tracks whether a device has been twinned to a location.
type LifecycleState string

// Device lifecycle states.
const (
	LifecycleUnassigned LifecycleState = "unassigned"
	LifecycleAssigned   LifecycleState = "assigned"
	LifecycleArchived   LifecycleState = "archived"
)

// DeviceContext binds a physical device to its location hierarchy and
// decoder selection. One row per DevEUI; owned by the device management
// service and treated as read-mostly reference data by this pipeline,
// except for orphan auto-creation on first-seen devices.
type DeviceContext struct {
	DevEUI         string         `json:"deveui"`
	DeviceTypeID   *int           `json:"device_type_id,omitempty"`
	SiteID         *uuid.UUID     `json:"site_id,omitempty"`
	FloorID        *uuid.UUID     `json:"floor_id,omitempty"`
	RoomID         *uuid.UUID     `json:"room_id,omitempty"`
	ZoneID         *uuid.UUID     `json:"zone_id,omitempty"`
	LifecycleState LifecycleState `json:"lifecycle_state"`
	LastGateway    string         `json:"last_gateway,omitempty"`
	AssignedAt     *time.Time     `json:"assigned_at,omitempty"`
	UnassignedAt   *time.Time     `json:"unassigned_at,omitempty"`
}

// Assigned reports whether the device has any location assignment.
func (c *DeviceContext) Assigned() bool {
	return c.SiteID != nil || c.FloorID != nil || c.RoomID != nil || c.ZoneID != nil
}

// LocationType is the level of a node in the location tree.
type LocationType string

// Location tree levels, outermost first.
const (
	LocationSite  LocationType = "site"
	LocationFloor LocationType = "floor"
	LocationRoom  LocationType = "room"
	LocationZone  LocationType = "zone"
)

// ParentType returns the required containing type for a node of type t,
// or "" for root (site) nodes.
func (t LocationType) ParentType() LocationType {
	switch t {
	case LocationFloor:
		return LocationSite
	case LocationRoom:
		return LocationFloor
	case LocationZone:
		return LocationRoom
	}
	return ""
}

// Location is a node in the self-referential site/floor/room/zone tree.
// Root nodes (type=site) have a nil parent. Containment rules are enforced
// by the context resolver, not the storage layer.
type Location struct {
	LocationID uuid.UUID    `json:"location_id"`
	Name       string       `json:"name"`
	Type       LocationType `json:"type"`
	ParentID   *uuid.UUID   `json:"parent_id,omitempty"`
}

// DeviceType drives decoder dispatch via its unpacker identifier.
type DeviceType struct {
	DeviceTypeID int    `json:"device_type_id"`
	DeviceType   string `json:"device_type"`
	Description  string `json:"description,omitempty"`
	Unpacker     string `json:"unpacker"`
}

// Gateway is a radio gateway observed relaying uplinks. Rows are
// auto-registered from uplink metadata and aged out by the offline sweep.
type Gateway struct {
	GatewayEUI  string     `json:"gw_eui"`
	GatewayName string     `json:"gateway_name,omitempty"`
	LastSeenAt  *time.Time `json:"last_seen_at,omitempty"`
	Status      string     `json:"status,omitempty"`
}
