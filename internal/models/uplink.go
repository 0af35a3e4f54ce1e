// SenseMy IoT - LoRaWAN Uplink Ingestion and Enrichment
// Copyright 2026 C. Paumelle (cpaumelle)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cpaumelle/sensemy-iot-platform

// Package models defines the canonical uplink schema, the storage row types
// and the per-provider wire formats accepted by the ingress webhook.
package models

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Source identifies the network-server provider an uplink arrived from.
type Source string

// Supported uplink sources.
const (
	SourceActility   Source = "actility"
	SourceNetmore    Source = "netmore"
	SourceTTI        Source = "tti"
	SourceChirpStack Source = "chirpstack"
)

// Valid reports whether s is one of the supported providers.
func (s Source) Valid() bool {
	switch s {
	case SourceActility, SourceNetmore, SourceTTI, SourceChirpStack:
		return true
	}
	return false
}

// CanonicalUplink is the provider-independent view of an uplink produced by
// the source adapter layer. It is transient: the ingest store persists it as
// a RawUplink row, and the forwarder carries it to enrichment.
type CanonicalUplink struct {
	DevEUI     string          `json:"deveui" validate:"required,len=16,hexadecimal"`
	Timestamp  time.Time       `json:"received_at" validate:"required"`
	FPort      int             `json:"fport"`
	Payload    []byte          `json:"-"`
	PayloadHex string          `json:"payload"`
	GatewayEUI string          `json:"gateway_eui,omitempty"`
	RSSI       *float64        `json:"gateway_rssi,omitempty"`
	SNR        *float64        `json:"gateway_snr,omitempty"`
	Source     Source          `json:"source" validate:"required"`
	Metadata   json.RawMessage `json:"uplink_metadata,omitempty"`
}

// RawUplink is a stored raw intake row. Rows are append-only; only the
// Processed flag ever changes after insert.
type RawUplink struct {
	UplinkID   int64           `json:"uplink_id"`
	UplinkUUID uuid.UUID       `json:"uplink_uuid"`
	DevEUI     string          `json:"deveui"`
	ReceivedAt time.Time       `json:"received_at"`
	FPort      int             `json:"fport"`
	Payload    string          `json:"payload"`
	Metadata   json.RawMessage `json:"uplink_metadata,omitempty"`
	Source     Source          `json:"source"`
	Processed  bool            `json:"processed"`
	GatewayEUI string          `json:"gateway_eui,omitempty"`
	RSSI       *float64        `json:"gateway_rssi,omitempty"`
	SNR        *float64        `json:"gateway_snr,omitempty"`
}

// ProcessedUplink is an enriched, decoded uplink keyed for analytics.
// Location and device type columns are a snapshot of DeviceContext at
// enrichment time, not live references.
type ProcessedUplink struct {
	UplinkUUID     uuid.UUID       `json:"uplink_uuid"`
	DevEUI         string          `json:"deveui"`
	Timestamp      time.Time       `json:"timestamp"`
	FPort          int             `json:"fport"`
	Payload        []byte          `json:"-"`
	Metadata       json.RawMessage `json:"uplink_metadata,omitempty"`
	PayloadDecoded json.RawMessage `json:"payload_decoded,omitempty"`
	DeviceTypeID   *int            `json:"device_type_id,omitempty"`
	SiteID         *uuid.UUID      `json:"site_id,omitempty"`
	FloorID        *uuid.UUID      `json:"floor_id,omitempty"`
	RoomID         *uuid.UUID      `json:"room_id,omitempty"`
	ZoneID         *uuid.UUID      `json:"zone_id,omitempty"`
	GatewayEUI     string          `json:"gateway_eui,omitempty"`
	Source         Source          `json:"source"`
}

// DecodedField is a single decoded payload value with its unit and the
// number of significant decimal places, so downstream consumers need no
// device-specific knowledge.
type DecodedField struct {
	Value     any    `json:"value"`
	Unit      string `json:"unit,omitempty"`
	Precision int    `json:"precision,omitempty"`
}

// DecodedFields maps field name to decoded value.
type DecodedFields map[string]DecodedField

// NormalizeDevEUI uppercases a device EUI and strips common separators.
// "aa-bb:cc..." and "aabbcc..." normalize to the same 16-char hex string.
func NormalizeDevEUI(deveui string) string {
	replacer := strings.NewReplacer("-", "", ":", "", " ", "")
	return strings.ToUpper(replacer.Replace(deveui))
}
