// SenseMy IoT - LoRaWAN Uplink Ingestion and Enrichment
// Copyright 2026 C. Paumelle (cpaumelle)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cpaumelle/sensemy-iot-platform

package models

// ChirpStackUplink is a ChirpStack v4 "up" event. The combination of a
// deviceInfo.devEui and an rxInfo array is the structural fingerprint used
// for auto-detection.
type ChirpStackUplink struct {
	DeduplicationID string                `json:"deduplicationId,omitempty"`
	Time            string                `json:"time"`
	DeviceInfo      *ChirpStackDeviceInfo `json:"deviceInfo"`
	DevAddr         string                `json:"devAddr,omitempty"`
	FPort           int                   `json:"fPort"`
	FCnt            int                   `json:"fCnt,omitempty"`
	Data            string                `json:"data"` // base64
	Confirmed       bool                  `json:"confirmed,omitempty"`
	DR              int                   `json:"dr,omitempty"`
	RxInfo          []ChirpStackRxInfo    `json:"rxInfo"`
}

// ChirpStackDeviceInfo identifies the device and its application.
type ChirpStackDeviceInfo struct {
	TenantID          string `json:"tenantId,omitempty"`
	ApplicationID     string `json:"applicationId,omitempty"`
	ApplicationName   string `json:"applicationName,omitempty"`
	DeviceProfileName string `json:"deviceProfileName,omitempty"`
	DeviceName        string `json:"deviceName,omitempty"`
	DevEUI            string `json:"devEui"`
}

// ChirpStackRxInfo is one gateway's reception report.
type ChirpStackRxInfo struct {
	GatewayID string   `json:"gatewayId"`
	UplinkID  int64    `json:"uplinkId,omitempty"`
	RSSI      *float64 `json:"rssi,omitempty"`
	SNR       *float64 `json:"snr,omitempty"`
	Context   string   `json:"context,omitempty"`
}
