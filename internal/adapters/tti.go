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

// parseTTI handles The Things Industries v3 webhook bodies. TTI can deliver
// the same uplink twice, once as uplink_message and once as
// uplink_normalized; the former is preferred and the pair deduplicates to a
// single canonical uplink.
func parseTTI(body []byte) (*models.CanonicalUplink, error) {
	var wh models.TTIWebhook
	if err := json.Unmarshal(body, &wh); err != nil {
		return nil, &ParseError{Source: models.SourceTTI, Reason: "invalid JSON", Err: err}
	}
	if wh.EndDeviceIDs == nil || wh.EndDeviceIDs.DevEUI == "" {
		return nil, &ParseError{Source: models.SourceTTI, Reason: "missing end_device_ids.dev_eui"}
	}

	uplink := wh.UplinkMessage
	if uplink == nil {
		uplink = wh.UplinkNormalized
	}
	if uplink == nil {
		return nil, &ParseError{Source: models.SourceTTI, Reason: "missing uplink_message"}
	}

	payload, err := base64.StdEncoding.DecodeString(uplink.FrmPayload)
	if err != nil {
		return nil, &ParseError{Source: models.SourceTTI, Reason: "frm_payload is not valid base64", Err: err}
	}

	rawTS := uplink.ReceivedAt
	if rawTS == "" {
		rawTS = wh.ReceivedAt
	}

	var (
		gatewayEUI string
		rssi, snr  *float64
	)
	if len(uplink.RxMetadata) > 0 {
		first := uplink.RxMetadata[0]
		if first.GatewayIDs != nil {
			gatewayEUI = first.GatewayIDs.EUI
		}
		rssi = first.RSSI
		snr = first.SNR
	}

	return &models.CanonicalUplink{
		DevEUI:     wh.EndDeviceIDs.DevEUI,
		Timestamp:  parseTimestamp(rawTS),
		FPort:      uplink.FPort,
		Payload:    payload,
		PayloadHex: hex.EncodeToString(payload),
		GatewayEUI: gatewayEUI,
		RSSI:       rssi,
		SNR:        snr,
		Source:     models.SourceTTI,
		Metadata:   json.RawMessage(body),
	}, nil
}
