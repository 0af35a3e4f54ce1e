// SenseMy IoT - LoRaWAN Uplink Ingestion and Enrichment
// Copyright 2026 C. Paumelle (cpaumelle)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cpaumelle/sensemy-iot-platform

package models

// TTIWebhook is a The Things Industries v3 uplink message. The presence of
// end_device_ids is the structural fingerprint used for auto-detection.
// TTI can deliver the same uplink under uplink_message and a second,
// normalized rendition under uplink_normalized; uplink_message wins.
type TTIWebhook struct {
	EndDeviceIDs     *TTIEndDeviceIDs `json:"end_device_ids"`
	ReceivedAt       string           `json:"received_at,omitempty"`
	UplinkMessage    *TTIUplink       `json:"uplink_message,omitempty"`
	UplinkNormalized *TTIUplink       `json:"uplink_normalized,omitempty"`
}

// TTIEndDeviceIDs identifies the end device.
type TTIEndDeviceIDs struct {
	DeviceID       string             `json:"device_id,omitempty"`
	ApplicationIDs *TTIApplicationIDs `json:"application_ids,omitempty"`
	DevEUI         string             `json:"dev_eui"`
	JoinEUI        string             `json:"join_eui,omitempty"`
	DevAddr        string             `json:"dev_addr,omitempty"`
}

// TTIApplicationIDs identifies the owning application.
type TTIApplicationIDs struct {
	ApplicationID string `json:"application_id"`
}

// TTIUplink carries the uplink payload and radio metadata.
type TTIUplink struct {
	SessionKeyID string          `json:"session_key_id,omitempty"`
	FPort        int             `json:"f_port"`
	FCnt         int             `json:"f_cnt,omitempty"`
	FrmPayload   string          `json:"frm_payload"` // base64
	ReceivedAt   string          `json:"received_at,omitempty"`
	RxMetadata   []TTIRxMetadata `json:"rx_metadata,omitempty"`
}

// TTIRxMetadata is one gateway's reception report.
type TTIRxMetadata struct {
	GatewayIDs *TTIGatewayIDs `json:"gateway_ids,omitempty"`
	RSSI       *float64       `json:"rssi,omitempty"`
	SNR        *float64       `json:"snr,omitempty"`
	Timestamp  int64          `json:"timestamp,omitempty"`
}

// TTIGatewayIDs identifies the receiving gateway.
type TTIGatewayIDs struct {
	GatewayID string `json:"gateway_id,omitempty"`
	EUI       string `json:"eui,omitempty"`
}
