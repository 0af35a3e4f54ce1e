// SenseMy IoT - LoRaWAN Uplink Ingestion and Enrichment
// Copyright 2026 C. Paumelle (cpaumelle)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cpaumelle/sensemy-iot-platform

package adapters

import (
	"errors"
	"testing"
	"time"

	"github.com/cpaumelle/sensemy-iot-platform/internal/models"
)

// Canonical sample bodies, one per provider.
const (
	actilityBody = `{
		"DevEUI_uplink": {
			"Time": "2025-07-22T16:53:01.234+00:00",
			"DevEUI": "58a0cb0000204d5e",
			"FPort": 102,
			"payload_hex": "080b3b42",
			"LrrRSSI": -87.0,
			"LrrSNR": 9.25,
			"BaseStationData": {"name": "paris-hq-7076FF0064050123"}
		}
	}`

	netmoreBody = `[{
		"devEui": "a81758fffe05abcd",
		"sensorType": "other",
		"timestamp": "2025-07-21T21:30:15.000Z",
		"payload": "0100f60204",
		"fPort": "6",
		"rssi": "-97",
		"snr": "7.5",
		"gatewayIdentifier": "1337"
	}]`

	ttiBody = `{
		"end_device_ids": {
			"device_id": "office-co2",
			"dev_eui": "2CF7F1C044300001",
			"application_ids": {"application_id": "sensemy"}
		},
		"received_at": "2025-08-05T11:20:03.591Z",
		"uplink_message": {
			"f_port": 85,
			"f_cnt": 1204,
			"frm_payload": "AXVkA2fqAARoUAd9kgE=",
			"received_at": "2025-08-05T11:20:03.372Z",
			"rx_metadata": [{
				"gateway_ids": {"gateway_id": "office-gw", "eui": "58A0CB0000900123"},
				"rssi": -54,
				"snr": 10.2
			}]
		}
	}`

	chirpstackBody = `{
		"deduplicationId": "9c2c52f4-3bf6-4be1-99a3-e9b0ab6b0a4c",
		"time": "2025-10-02T18:00:11.512Z",
		"deviceInfo": {
			"applicationId": "f2f6c07e-2a35-43a4-8d25-ebe6a5c0be21",
			"applicationName": "sensemy",
			"deviceName": "door-1",
			"devEui": "e8e1e10001093a77"
		},
		"fPort": 100,
		"data": "AAs7QgEAAAA=",
		"rxInfo": [{"gatewayId": "7276ff002e060123", "rssi": -101, "snr": -3.5}]
	}`
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    models.Source
		wantErr bool
	}{
		{"actility wrapper", actilityBody, models.SourceActility, false},
		{"netmore array", netmoreBody, models.SourceNetmore, false},
		{"tti end_device_ids", ttiBody, models.SourceTTI, false},
		{"chirpstack deviceInfo+rxInfo", chirpstackBody, models.SourceChirpStack, false},
		{"empty body", ``, "", true},
		{"not JSON", `hello`, "", true},
		{"unrecognized object", `{"foo": 1}`, "", true},
		{"unrecognized array", `[{"foo": 1}]`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Detect([]byte(tt.body))
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownSource) {
					t.Fatalf("expected ErrUnknownSource, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Detect() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Detect() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseActility(t *testing.T) {
	up, err := Parse([]byte(actilityBody), "")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if up.DevEUI != "58A0CB0000204D5E" {
		t.Errorf("DevEUI = %q, want uppercase normalized", up.DevEUI)
	}
	if up.FPort != 102 {
		t.Errorf("FPort = %d, want 102", up.FPort)
	}
	if up.PayloadHex != "080b3b42" {
		t.Errorf("PayloadHex = %q", up.PayloadHex)
	}
	if len(up.Payload) != 4 || up.Payload[0] != 0x08 {
		t.Errorf("Payload = %x, want hex-decoded bytes", up.Payload)
	}
	// Gateway EUI is the last 16 chars of the base station name.
	if up.GatewayEUI != "7076FF0064050123" {
		t.Errorf("GatewayEUI = %q", up.GatewayEUI)
	}
	if up.RSSI == nil || *up.RSSI != -87.0 {
		t.Errorf("RSSI = %v, want -87", up.RSSI)
	}
	if up.Source != models.SourceActility {
		t.Errorf("Source = %v", up.Source)
	}

	wantTS := time.Date(2025, 7, 22, 16, 53, 1, 234000000, time.UTC)
	if !up.Timestamp.Equal(wantTS) {
		t.Errorf("Timestamp = %v, want %v", up.Timestamp, wantTS)
	}
}

func TestParseNetmore(t *testing.T) {
	up, err := Parse([]byte(netmoreBody), "")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if up.DevEUI != "A81758FFFE05ABCD" {
		t.Errorf("DevEUI = %q", up.DevEUI)
	}
	if up.FPort != 6 {
		t.Errorf("FPort = %d, want 6 (parsed from string)", up.FPort)
	}
	if up.GatewayEUI != "NETMORE-1337" {
		t.Errorf("GatewayEUI = %q, want NETMORE- prefix", up.GatewayEUI)
	}
	if up.RSSI == nil || *up.RSSI != -97 {
		t.Errorf("RSSI = %v, want -97", up.RSSI)
	}
	if up.SNR == nil || *up.SNR != 7.5 {
		t.Errorf("SNR = %v, want 7.5", up.SNR)
	}
}

func TestParseNetmoreMultipleUplinks(t *testing.T) {
	body := `[{"devEui":"a81758fffe05abcd","payload":"00","fPort":"6"},{"devEui":"a81758fffe05abce","payload":"01","fPort":"6"}]`
	_, err := Parse([]byte(body), models.SourceNetmore)
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParseError for multi-uplink array, got %v", err)
	}
}

func TestParseTTI(t *testing.T) {
	up, err := Parse([]byte(ttiBody), "")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if up.DevEUI != "2CF7F1C044300001" {
		t.Errorf("DevEUI = %q", up.DevEUI)
	}
	if up.FPort != 85 {
		t.Errorf("FPort = %d, want 85", up.FPort)
	}
	// Base64 frm_payload decodes to raw bytes.
	if up.PayloadHex != "0175640367ea00046850077d9201" {
		t.Errorf("PayloadHex = %q", up.PayloadHex)
	}
	if up.GatewayEUI != "58A0CB0000900123" {
		t.Errorf("GatewayEUI = %q", up.GatewayEUI)
	}
}

func TestParseTTINormalizedFallback(t *testing.T) {
	body := `{
		"end_device_ids": {"dev_eui": "2CF7F1C044300001"},
		"uplink_normalized": {"f_port": 85, "frm_payload": "AAE=", "received_at": "2025-08-05T11:20:03Z"}
	}`
	up, err := Parse([]byte(body), models.SourceTTI)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if up.PayloadHex != "0001" {
		t.Errorf("PayloadHex = %q, want fallback to uplink_normalized", up.PayloadHex)
	}
}

func TestParseChirpStack(t *testing.T) {
	up, err := Parse([]byte(chirpstackBody), "")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if up.DevEUI != "E8E1E10001093A77" {
		t.Errorf("DevEUI = %q", up.DevEUI)
	}
	if up.FPort != 100 {
		t.Errorf("FPort = %d, want 100", up.FPort)
	}
	if up.GatewayEUI != "7276ff002e060123" {
		t.Errorf("GatewayEUI = %q", up.GatewayEUI)
	}
	if up.SNR == nil || *up.SNR != -3.5 {
		t.Errorf("SNR = %v, want -3.5", up.SNR)
	}
	if len(up.Payload) != 8 {
		t.Errorf("Payload length = %d, want 8", len(up.Payload))
	}
}

func TestParseDeclaredSourceSkipsDetection(t *testing.T) {
	// A body that would not fingerprint as Netmore object-style still
	// parses when the source is declared.
	body := `{"devEui": "a81758fffe05abcd", "payload": "00", "fPort": "6", "timestamp": "2025-07-21T21:30:15Z"}`
	up, err := Parse([]byte(body), models.SourceNetmore)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if up.Source != models.SourceNetmore {
		t.Errorf("Source = %v", up.Source)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		source models.Source
	}{
		{"actility missing deveui", `{"DevEUI_uplink": {"payload_hex": "00"}}`, models.SourceActility},
		{"actility bad hex", `{"DevEUI_uplink": {"DevEUI": "58A0CB0000204D5E", "payload_hex": "zz"}}`, models.SourceActility},
		{"tti missing device ids", `{"uplink_message": {"frm_payload": "AAE="}}`, models.SourceTTI},
		{"tti bad base64", `{"end_device_ids": {"dev_eui": "2CF7F1C044300001"}, "uplink_message": {"frm_payload": "!!"}}`, models.SourceTTI},
		{"chirpstack missing device info", `{"data": "AAE=", "rxInfo": []}`, models.SourceChirpStack},
		{"netmore missing deveui", `[{"payload": "00"}]`, models.SourceNetmore},
		{"short deveui fails validation", `{"DevEUI_uplink": {"DevEUI": "ABCD", "payload_hex": "00"}}`, models.SourceActility},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.body), tt.source)
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("expected ParseError, got %v", err)
			}
		})
	}
}

func TestParseTimestampFallback(t *testing.T) {
	before := time.Now().UTC()
	ts := parseTimestamp("not-a-timestamp")
	if ts.Before(before.Add(-time.Second)) {
		t.Errorf("expected fallback to now, got %v", ts)
	}
	if ts.Location() != time.UTC {
		t.Errorf("expected UTC, got %v", ts.Location())
	}
}
