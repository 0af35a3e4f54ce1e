// SenseMy IoT - LoRaWAN Uplink Ingestion and Enrichment
// Copyright 2026 C. Paumelle (cpaumelle)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cpaumelle/sensemy-iot-platform

package adapters

import (
	"encoding/hex"

	"github.com/goccy/go-json"

	"github.com/cpaumelle/sensemy-iot-platform/internal/models"
)

// parseActility handles ThingPark DevEUI_uplink bodies.
func parseActility(body []byte) (*models.CanonicalUplink, error) {
	var wh models.ActilityWebhook
	if err := json.Unmarshal(body, &wh); err != nil {
		return nil, &ParseError{Source: models.SourceActility, Reason: "invalid JSON", Err: err}
	}
	if wh.DevEUIUplink == nil {
		return nil, &ParseError{Source: models.SourceActility, Reason: "missing DevEUI_uplink object"}
	}
	up := wh.DevEUIUplink
	if up.DevEUI == "" {
		return nil, &ParseError{Source: models.SourceActility, Reason: "missing DevEUI"}
	}

	payload, err := hex.DecodeString(up.PayloadHex)
	if err != nil {
		return nil, &ParseError{Source: models.SourceActility, Reason: "payload_hex is not valid hex", Err: err}
	}

	// ThingPark base station names embed the gateway EUI as the trailing
	// 16 characters; everything before it is a site label.
	gatewayEUI := ""
	if up.BaseStationData != nil && up.BaseStationData.Name != "" {
		name := up.BaseStationData.Name
		if len(name) > 16 {
			name = name[len(name)-16:]
		}
		gatewayEUI = name
	}

	return &models.CanonicalUplink{
		DevEUI:     up.DevEUI,
		Timestamp:  parseTimestamp(up.Time),
		FPort:      up.FPort,
		Payload:    payload,
		PayloadHex: up.PayloadHex,
		GatewayEUI: gatewayEUI,
		RSSI:       up.LrrRSSI,
		SNR:        up.LrrSNR,
		Source:     models.SourceActility,
		Metadata:   json.RawMessage(body),
	}, nil
}
