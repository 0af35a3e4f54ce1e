// SenseMy IoT - LoRaWAN Uplink Ingestion and Enrichment
// Copyright 2026 C. Paumelle (cpaumelle)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cpaumelle/sensemy-iot-platform

package adapters

import (
	"encoding/base64"
	"encoding/hex"

	"github.com/goccy/go-json"

	"github.com/cpaumelle/sensemy-iot-platform/internal/models"
)

// parseChirpStack handles ChirpStack v4 "up" event bodies.
func parseChirpStack(body []byte) (*models.CanonicalUplink, error) {
	var up models.ChirpStackUplink
	if err := json.Unmarshal(body, &up); err != nil {
		return nil, &ParseError{Source: models.SourceChirpStack, Reason: "invalid JSON", Err: err}
	}
	if up.DeviceInfo == nil || up.DeviceInfo.DevEUI == "" {
		return nil, &ParseError{Source: models.SourceChirpStack, Reason: "missing deviceInfo.devEui"}
	}

	payload, err := base64.StdEncoding.DecodeString(up.Data)
	if err != nil {
		return nil, &ParseError{Source: models.SourceChirpStack, Reason: "data is not valid base64", Err: err}
	}

	var (
		gatewayEUI string
		rssi, snr  *float64
	)
	if len(up.RxInfo) > 0 {
		first := up.RxInfo[0]
		gatewayEUI = first.GatewayID
		rssi = first.RSSI
		snr = first.SNR
	}

	return &models.CanonicalUplink{
		DevEUI:     up.DeviceInfo.DevEUI,
		Timestamp:  parseTimestamp(up.Time),
		FPort:      up.FPort,
		Payload:    payload,
		PayloadHex: hex.EncodeToString(payload),
		GatewayEUI: gatewayEUI,
		RSSI:       rssi,
		SNR:        snr,
		Source:     models.SourceChirpStack,
		Metadata:   json.RawMessage(body),
	}, nil
}
