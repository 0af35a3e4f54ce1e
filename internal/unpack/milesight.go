// SenseMy IoT - LoRaWAN Uplink Ingestion and Enrichment
// Copyright 2026 C. Paumelle (cpaumelle)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cpaumelle/sensemy-iot-platform

package unpack

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/cpaumelle/sensemy-iot-platform/internal/models"
)

func init() {
	register("milesight_am103", decodeMilesightAM103)
}

// decodeMilesightAM103 handles the AM103 air quality sensor on port 85.
// Telemetry is TLV-encoded as (channel, type, data) tuples; frames starting
// with 0xFF carry device metadata instead.
func decodeMilesightAM103(payload []byte, fport int) (models.DecodedFields, error) {
	const name = "milesight_am103"

	if fport != 85 {
		return nil, decodeErrorf(name, "unexpected port %d, expected 85", fport)
	}
	if len(payload) == 0 {
		return nil, decodeErrorf(name, "empty payload")
	}

	if payload[0] == 0xFF {
		return decodeMilesightBasicInfo(payload), nil
	}

	fields := models.DecodedFields{}
	index := 0
	for index+1 < len(payload) {
		channel := payload[index]
		dataType := payload[index+1]

		size, known := milesightDataSize(channel, dataType)
		if !known {
			return nil, decodeErrorf(name, "unknown channel/type (0x%02x, 0x%02x) at index %d", channel, dataType, index)
		}
		if index+2+size > len(payload) {
			return nil, decodeErrorf(name, "truncated TLV for channel 0x%02x at index %d", channel, index)
		}
		data := payload[index+2 : index+2+size]

		switch {
		case channel == 0x01 && dataType == 0x75: // battery
			fields["battery_raw"] = count(int(data[0]))
			fields["battery_pct"] = num(int(math.Round(float64(data[0])/254*100)), "%", 0)
		case channel == 0x03 && dataType == 0x67: // temperature
			temp := int16(binary.LittleEndian.Uint16(data))
			fields["temperature"] = num(float64(temp)/10, "C", 1)
		case channel == 0x04 && dataType == 0x68: // humidity
			fields["humidity"] = num(float64(data[0])/2, "%", 1)
		case channel == 0x07 && dataType == 0x7D: // CO2
			fields["co2_ppm"] = num(int(binary.LittleEndian.Uint16(data)), "ppm", 0)
		}

		index += 2 + size
	}

	return fields, nil
}

func milesightDataSize(channel, dataType byte) (int, bool) {
	switch {
	case channel == 0x01 && dataType == 0x75:
		return 1, true
	case channel == 0x03 && dataType == 0x67:
		return 2, true
	case channel == 0x04 && dataType == 0x68:
		return 1, true
	case channel == 0x07 && dataType == 0x7D:
		return 2, true
	}
	return 0, false
}

// decodeMilesightBasicInfo parses FF-prefixed metadata frames. Unknown or
// truncated entries end the scan; partial metadata is still useful.
func decodeMilesightBasicInfo(payload []byte) models.DecodedFields {
	fields := models.DecodedFields{}
	index := 1 // skip 0xFF prefix
	for index+4 <= len(payload) {
		channel := payload[index]
		dataType := payload[index+1]
		size := int(payload[index+2])
		if index+3+size > len(payload) {
			break
		}
		data := payload[index+3 : index+3+size]

		switch {
		case channel == 0xFF && dataType == 0x01 && size >= 1:
			fields["protocol_version"] = count(int(data[0]))
		case channel == 0xFF && dataType == 0x09 && size >= 2:
			fields["hardware_version"] = text(fmt.Sprintf("%d.%d", data[0], data[1]))
		case channel == 0xFF && dataType == 0x0A && size >= 2:
			fields["software_version"] = text(fmt.Sprintf("%d.%d", data[0], data[1]))
		case channel == 0xFF && dataType == 0x0F && size >= 1:
			classes := []string{"Class A", "Class B", "Class C"}
			if int(data[0]) < len(classes) {
				fields["device_type"] = text(classes[data[0]])
			} else {
				fields["device_type"] = text(fmt.Sprintf("Unknown (%d)", data[0]))
			}
		case channel == 0xFF && dataType == 0x16:
			fields["device_sn"] = text(hex.EncodeToString(data))
		case channel == 0xFF && dataType == 0x18 && size >= 1:
			fields["temp_sensor"] = flag(data[0]&0x01 != 0)
			fields["hum_sensor"] = flag(data[0]&0x02 != 0)
			fields["co2_sensor"] = flag(data[0]&0x10 != 0)
		}

		index += 3 + size
	}
	return fields
}
