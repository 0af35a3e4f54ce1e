// SenseMy IoT - LoRaWAN Uplink Ingestion and Enrichment
// Copyright 2026 C. Paumelle (cpaumelle)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cpaumelle/sensemy-iot-platform

package unpack

import (
	"encoding/binary"

	"github.com/cpaumelle/sensemy-iot-platform/internal/models"
)

// MerryIoT sensors encode battery as 2.1V plus the low nibble in 0.1V steps
// and temperature as a signed little-endian int16 in tenths of a degree.

func init() {
	register("merryiot_co2", decodeMerryIoTCO2)
	register("merryiot_ms10", decodeMerryIoTMS10)
}

func merryIoTBattery(b byte) float64 {
	return float64(21+(b&0x0F)) / 10
}

// decodeMerryIoTCO2 handles the CD10 CO2 sensor's 7-byte uplink on port 127.
func decodeMerryIoTCO2(payload []byte, fport int) (models.DecodedFields, error) {
	const name = "merryiot_co2"

	if fport != 127 {
		return nil, decodeErrorf(name, "unexpected port %d, expected 127", fport)
	}
	if len(payload) != 7 {
		return nil, decodeErrorf(name, "unexpected payload length: %d bytes, expected 7", len(payload))
	}

	status := payload[0]
	tempRaw := int16(binary.LittleEndian.Uint16(payload[2:4]))

	return models.DecodedFields{
		"trigger_event":        flag(status&0x01 != 0),
		"button_pressed":       flag(status&0x02 != 0),
		"co2_high_alarm":       flag(status&0x10 != 0),
		"co2_calibration_flag": flag(status&0x20 != 0),
		"battery_voltage":      num(merryIoTBattery(payload[1]), "V", 1),
		"temperature":          num(float64(tempRaw)/10, "C", 1),
		"humidity":             num(int(payload[4]&0x7F), "%", 0),
		"co2_ppm":              num(int(binary.LittleEndian.Uint16(payload[5:7])), "ppm", 0),
	}, nil
}

// decodeMerryIoTMS10 handles the MS10 motion sensor: status on port 122,
// config responses on port 204.
func decodeMerryIoTMS10(payload []byte, fport int) (models.DecodedFields, error) {
	const name = "merryiot_ms10"

	switch fport {
	case 122:
		if len(payload) != 10 {
			return nil, decodeErrorf(name, "unexpected status length: %d bytes, expected 10", len(payload))
		}
		status := payload[0]
		tempRaw := int16(binary.LittleEndian.Uint16(payload[2:4]))
		timeSince := binary.LittleEndian.Uint16(payload[5:7])
		eventCount := uint32(payload[7]) | uint32(payload[8])<<8 | uint32(payload[9])<<16

		return models.DecodedFields{
			"occupied":              flag(status&0x01 != 0),
			"button_pressed":        flag(status&0x02 != 0),
			"tamper_detected":       flag(status&0x04 != 0),
			"battery_voltage":       num(merryIoTBattery(payload[1]), "V", 1),
			"temperature":           num(float64(tempRaw)/10, "C", 1),
			"humidity":              num(int(payload[4]&0x7F), "%", 0),
			"time_since_last_event": num(int(timeSince), "min", 0),
			"event_count":           count(int(eventCount)),
		}, nil

	case 204:
		if len(payload) != 18 {
			return nil, decodeErrorf(name, "unexpected config response length: %d bytes, expected 18", len(payload))
		}
		return models.DecodedFields{
			"keepalive_interval":  count(int(binary.LittleEndian.Uint16(payload[1:3]))),
			"occupied_interval":   count(int(binary.LittleEndian.Uint16(payload[4:6]))),
			"free_detection_time": count(int(payload[7])),
			"trigger_count":       count(int(binary.LittleEndian.Uint16(payload[9:11]))),
			"pir_config":          count(int(binary.LittleEndian.Uint32(payload[12:16]))),
			"tamper_enabled":      flag(payload[17]&0x01 != 0),
		}, nil
	}

	return nil, decodeErrorf(name, "unexpected port %d, expected 122 or 204", fport)
}
