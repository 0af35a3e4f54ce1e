// SenseMy IoT - LoRaWAN Uplink Ingestion and Enrichment
// Copyright 2026 C. Paumelle (cpaumelle)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cpaumelle/sensemy-iot-platform

package models

// NetmoreUplink is one element of the JSON array Netmore posts per uplink.
// Netmore serializes most numeric fields as strings, so they are kept as
// strings here and parsed by the adapter.
type NetmoreUplink struct {
	DevEUI            string `json:"devEui"`
	SensorType        string `json:"sensorType,omitempty"`
	MessageType       string `json:"messageType,omitempty"`
	Timestamp         string `json:"timestamp"`
	Payload           string `json:"payload"`
	FPort             string `json:"fPort"`
	FCntUp            string `json:"fCntUp,omitempty"`
	ToA               string `json:"toa,omitempty"`
	Frequency         string `json:"freq,omitempty"`
	BatteryLevel      string `json:"batteryLevel,omitempty"`
	Ack               bool   `json:"ack,omitempty"`
	SpreadingFactor   string `json:"spreadingFactor,omitempty"`
	RSSI              string `json:"rssi,omitempty"`
	SNR               string `json:"snr,omitempty"`
	GatewayIdentifier string `json:"gatewayIdentifier,omitempty"`
}
