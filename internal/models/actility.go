// SenseMy IoT - LoRaWAN Uplink Ingestion and Enrichment
// Copyright 2026 C. Paumelle (cpaumelle)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cpaumelle/sensemy-iot-platform

package models

// ActilityWebhook is the ThingPark uplink wrapper. The presence of the
// top-level DevEUI_uplink object is the structural fingerprint used for
// source auto-detection.
type ActilityWebhook struct {
	DevEUIUplink *ActilityUplink `json:"DevEUI_uplink"`
}

// ActilityUplink carries the uplink fields ThingPark reports.
type ActilityUplink struct {
	Time            string                `json:"Time"`
	DevEUI          string                `json:"DevEUI"`
	FPort           int                   `json:"FPort"`
	PayloadHex      string                `json:"payload_hex"`
	LrrRSSI         *float64              `json:"LrrRSSI,omitempty"`
	LrrSNR          *float64              `json:"LrrSNR,omitempty"`
	LrrID           string                `json:"Lrrid,omitempty"`
	SpFact          int                   `json:"SpFact,omitempty"`
	BaseStationData *ActilityBaseStation  `json:"BaseStationData,omitempty"`
	CustomerData    map[string]any        `json:"CustomerData,omitempty"`
}

// ActilityBaseStation identifies the receiving base station. The name field
// embeds the gateway EUI as its last 16 characters.
type ActilityBaseStation struct {
	Name string `json:"name"`
	DOMS []any  `json:"doms,omitempty"`
}
