// SenseMy IoT - LoRaWAN Uplink Ingestion and Enrichment
// Copyright 2026 C. Paumelle (cpaumelle)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cpaumelle/sensemy-iot-platform

package unpack

import (
	"encoding/binary"
	"fmt"

	"github.com/cpaumelle/sensemy-iot-platform/internal/models"
)

func init() {
	register("smilio_a_s", decodeSmilioAS)
}

// decodeSmilioAS handles the Skiply Smilio Action five-button panel on
// port 2. The first byte selects the frame: keep-alive (0x01), press
// counters (0x02), hall effect (0x03), pulse states (0x40) or code mode
// (0x10-0x1F with embedded acks).
func decodeSmilioAS(payload []byte, fport int) (models.DecodedFields, error) {
	const name = "smilio_a_s"

	if fport != 2 {
		return nil, decodeErrorf(name, "unexpected port %d, expected 2", fport)
	}
	if len(payload) < 2 {
		return nil, decodeErrorf(name, "payload too short: %d bytes", len(payload))
	}

	frameType := payload[0]

	switch {
	case frameType == 0x01:
		if len(payload) != 6 {
			return nil, decodeErrorf(name, "unexpected keep-alive length: %d bytes, expected 6", len(payload))
		}
		if payload[5] != 0x64 {
			return nil, decodeErrorf(name, "unexpected terminator byte 0x%02x, expected 0x64", payload[5])
		}
		return models.DecodedFields{
			"frame_type":      text("keep_alive"),
			"battery_idle_mv": num(int(binary.BigEndian.Uint16(payload[1:3])), "mV", 0),
			"battery_tx_mv":   num(int(binary.BigEndian.Uint16(payload[3:5])), "mV", 0),
		}, nil

	case frameType == 0x02:
		if len(payload) != 11 {
			return nil, decodeErrorf(name, "unexpected normal length: %d bytes, expected 11", len(payload))
		}
		return smilioCounters("normal", payload), nil

	case frameType == 0x03:
		if len(payload) != 12 {
			return nil, decodeErrorf(name, "unexpected hall effect length: %d bytes, expected 12", len(payload))
		}
		return smilioCounters("hall_effect", payload), nil

	case frameType == 0x40:
		if len(payload) != 12 {
			return nil, decodeErrorf(name, "unexpected pulse length: %d bytes, expected 12", len(payload))
		}
		fields := models.DecodedFields{"frame_type": text("pulse")}
		for i := 0; i < 5; i++ {
			state := binary.BigEndian.Uint16(payload[1+2*i : 3+2*i])
			fields[fmt.Sprintf("button_%d", i+1)] = flag(state != 0)
		}
		return fields, nil

	case frameType&0xF0 == 0x10:
		if len(payload) != 15 {
			return nil, decodeErrorf(name, "unexpected code mode length: %d bytes, expected 15", len(payload))
		}
		return models.DecodedFields{
			"frame_type": text("code"),
			"ack_1":      count(int(frameType&0x0C) >> 2),
			"ack_2":      count(int(frameType & 0x03)),
			"time_last":  count(int(binary.BigEndian.Uint16(payload[1:3]))),
			"time_tx":    count(int(binary.BigEndian.Uint16(payload[3:5]))),
			"code_2":     count(int(binary.BigEndian.Uint32(payload[5:9]))),
			"code_1":     count(int(binary.BigEndian.Uint32(payload[9:13]))),
		}, nil
	}

	return nil, decodeErrorf(name, "unexpected frame type 0x%02x", frameType)
}

func smilioCounters(frameType string, payload []byte) models.DecodedFields {
	fields := models.DecodedFields{"frame_type": text(frameType)}
	for i := 0; i < 5; i++ {
		fields[fmt.Sprintf("counter_%d", i+1)] = count(int(binary.BigEndian.Uint16(payload[1+2*i : 3+2*i])))
	}
	return fields
}
