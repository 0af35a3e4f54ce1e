// SenseMy IoT - LoRaWAN Uplink Ingestion and Enrichment
// Copyright 2026 C. Paumelle (cpaumelle)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cpaumelle/sensemy-iot-platform

package adapters

import (
	"bytes"
	"encoding/hex"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/cpaumelle/sensemy-iot-platform/internal/models"
)

// parseNetmore handles Netmore bodies: a JSON array with one uplink object,
// or the bare object. Multi-uplink arrays are rejected rather than silently
// dropping elements.
func parseNetmore(body []byte) (*models.CanonicalUplink, error) {
	trimmed := bytes.TrimSpace(body)

	var up models.NetmoreUplink
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []models.NetmoreUplink
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, &ParseError{Source: models.SourceNetmore, Reason: "invalid JSON", Err: err}
		}
		switch len(items) {
		case 0:
			return nil, &ParseError{Source: models.SourceNetmore, Reason: "empty uplink array"}
		case 1:
			up = items[0]
		default:
			return nil, &ParseError{Source: models.SourceNetmore, Reason: "multiple uplinks per request not supported"}
		}
	} else {
		if err := json.Unmarshal(trimmed, &up); err != nil {
			return nil, &ParseError{Source: models.SourceNetmore, Reason: "invalid JSON", Err: err}
		}
	}

	if up.DevEUI == "" {
		return nil, &ParseError{Source: models.SourceNetmore, Reason: "missing devEui"}
	}

	payload, err := hex.DecodeString(up.Payload)
	if err != nil {
		return nil, &ParseError{Source: models.SourceNetmore, Reason: "payload is not valid hex", Err: err}
	}

	// Netmore serializes numerics as strings.
	fport, _ := strconv.Atoi(up.FPort)

	// Netmore gateway identifiers are short internal IDs, not EUIs;
	// prefixing keeps them from colliding with real gateway EUIs.
	gatewayEUI := ""
	if up.GatewayIdentifier != "" {
		gatewayEUI = "NETMORE-" + up.GatewayIdentifier
	}

	return &models.CanonicalUplink{
		DevEUI:     up.DevEUI,
		Timestamp:  parseTimestamp(up.Timestamp),
		FPort:      fport,
		Payload:    payload,
		PayloadHex: up.Payload,
		GatewayEUI: gatewayEUI,
		RSSI:       parseFloatField(up.RSSI),
		SNR:        parseFloatField(up.SNR),
		Source:     models.SourceNetmore,
		Metadata:   json.RawMessage(body),
	}, nil
}

// parseFloatField parses Netmore's stringly-typed numerics; absent or
// malformed values map to nil rather than zero, which downstream treats as
// "not reported".
func parseFloatField(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
