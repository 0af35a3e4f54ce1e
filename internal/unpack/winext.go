// SenseMy IoT - LoRaWAN Uplink Ingestion and Enrichment
// Copyright 2026 C. Paumelle (cpaumelle)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cpaumelle/sensemy-iot-platform

package unpack

import (
	"encoding/binary"

	"github.com/cpaumelle/sensemy-iot-platform/internal/models"
)

func init() {
	register("winext_an102c", decodeWinextAN102C)
}

// decodeWinextAN102C handles the AN-102C smoke detector on port 46.
// Frames carry a sensor type byte (always 0x01) followed by a frame type:
// heartbeat (0x01), self-test (0x02) or alarm (0x03).
func decodeWinextAN102C(payload []byte, fport int) (models.DecodedFields, error) {
	const name = "winext_an102c"

	if fport != 46 {
		return nil, decodeErrorf(name, "unexpected port %d, expected 46", fport)
	}
	if len(payload) < 2 {
		return nil, decodeErrorf(name, "payload too short: %d bytes", len(payload))
	}
	if payload[0] != 0x01 {
		return nil, decodeErrorf(name, "unexpected sensor type 0x%02x, expected 0x01", payload[0])
	}

	switch payload[1] {
	case 0x01: // heartbeat
		if len(payload) != 11 {
			return nil, decodeErrorf(name, "unexpected heartbeat length: %d bytes, expected 11", len(payload))
		}
		temp := int16(binary.BigEndian.Uint16(payload[3:5]))
		fields := models.DecodedFields{
			"frame_type":          text("heartbeat"),
			"smoke_concentration": num(float64(payload[2])/100, "%/m", 2),
			"temperature":         num(float64(temp)/100, "C", 2),
			"humidity":            num(int(payload[5]), "%", 0),
			"battery_percent":     num(int(payload[6]), "%", 0),
			"pollution":           count(int(payload[9])),
			"voltage":             num(float64(payload[10])/10, "V", 1),
		}
		winextAlarmFlags(fields, payload[7])
		winextFaultFlags(fields, payload[8])
		return fields, nil

	case 0x02: // self-test
		if len(payload) != 3 {
			return nil, decodeErrorf(name, "unexpected self-test length: %d bytes, expected 3", len(payload))
		}
		return models.DecodedFields{
			"frame_type":                    text("self_test"),
			"self_test_active":              flag(payload[2]&0x80 != 0),
			"self_test_smoke_sensor_fail":   flag(payload[2]&0x01 != 0),
			"self_test_temp_rh_sensor_fail": flag(payload[2]&0x02 != 0),
		}, nil

	case 0x03: // alarm
		if len(payload) != 10 {
			return nil, decodeErrorf(name, "unexpected alarm length: %d bytes, expected 10", len(payload))
		}
		temp := int16(binary.BigEndian.Uint16(payload[5:7]))
		fields := models.DecodedFields{
			"frame_type":          text("alarm"),
			"smoke_concentration": num(float64(payload[4])/100, "%/m", 2),
			"temperature":         num(float64(temp)/100, "C", 2),
			"humidity":            num(int(payload[7]), "%", 0),
			"battery_percent":     num(int(payload[8]), "%", 0),
			"pollution":           count(int(payload[9])),
		}
		winextAlarmFlags(fields, payload[2])
		winextFaultFlags(fields, payload[3])
		return fields, nil
	}

	return nil, decodeErrorf(name, "unknown frame type 0x%02x", payload[1])
}

func winextAlarmFlags(fields models.DecodedFields, b byte) {
	fields["alarm_smoke"] = flag(b&0x01 != 0)
	fields["alarm_temperature"] = flag(b&0x02 != 0)
	fields["alarm_low_battery"] = flag(b&0x04 != 0)
}

func winextFaultFlags(fields models.DecodedFields, b byte) {
	fields["fault_smoke_sensor"] = flag(b&0x01 != 0)
	fields["fault_temp_rh_sensor"] = flag(b&0x02 != 0)
}
