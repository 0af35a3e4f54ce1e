// SenseMy IoT - LoRaWAN Uplink Ingestion and Enrichment
// Copyright 2026 C. Paumelle (cpaumelle)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cpaumelle/sensemy-iot-platform

package mqtt

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/cpaumelle/sensemy-iot-platform/internal/models"
)

func TestEventFromUplink(t *testing.T) {
	rssi := -87.0
	snr := 9.5
	id := uuid.New()
	up := &models.RawUplink{
		UplinkUUID: id,
		DevEUI:     "58A0CB0000204D5E",
		ReceivedAt: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		FPort:      103,
		Payload:    "080b3b42",
		Source:     models.SourceActility,
		GatewayEUI: "7076FF0064050123",
		RSSI:       &rssi,
		SNR:        &snr,
		Metadata:   json.RawMessage(`{"sf": 7}`),
	}

	event := eventFromUplink(up, "sensemy")

	if event.DeduplicationID != id.String() {
		t.Errorf("DeduplicationID = %q, want uplink UUID", event.DeduplicationID)
	}
	if event.DeviceInfo.DevEUI != "58A0CB0000204D5E" || event.DeviceInfo.ApplicationID != "sensemy" {
		t.Errorf("unexpected deviceInfo %+v", event.DeviceInfo)
	}
	if event.Data != "080b3b42" || event.FPort != 103 {
		t.Errorf("payload fields = %q/%d", event.Data, event.FPort)
	}
	if len(event.RXInfo) != 1 {
		t.Fatalf("got %d rxInfo entries, want 1", len(event.RXInfo))
	}
	if event.RXInfo[0].GatewayID != "7076FF0064050123" || *event.RXInfo[0].RSSI != -87 {
		t.Errorf("unexpected rxInfo %+v", event.RXInfo[0])
	}
	if event.Metadata["sf"].(float64) != 7 {
		t.Errorf("metadata sf = %v, want 7", event.Metadata["sf"])
	}
}

func TestEventFromUplinkNoGateway(t *testing.T) {
	up := &models.RawUplink{
		UplinkUUID: uuid.New(),
		DevEUI:     "0004A30B001C1234",
		ReceivedAt: time.Now().UTC(),
		Payload:    "00",
		Source:     models.SourceNetmore,
	}

	event := eventFromUplink(up, "sensemy")
	if event.RXInfo != nil {
		t.Error("expected no rxInfo without a gateway EUI")
	}
	if event.Metadata != nil {
		t.Error("expected no metadata passthrough")
	}
}

func TestEventTopicShape(t *testing.T) {
	// The topic layout is the ChirpStack bridge contract; a consumer
	// subscribing to application/+/device/+/event/up must match.
	data, err := json.Marshal(eventFromUplink(&models.RawUplink{
		UplinkUUID: uuid.New(),
		DevEUI:     "58A0CB0000204D5E",
		ReceivedAt: time.Now().UTC(),
		Source:     models.SourceTTI,
	}, "sensemy"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"deduplicationId", "deviceInfo", "fPort", "data", "source"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("event JSON missing %q", key)
		}
	}
}
