// SenseMy IoT - LoRaWAN Uplink Ingestion and Enrichment
// Copyright 2026 C. Paumelle (cpaumelle)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cpaumelle/sensemy-iot-platform

package unpack

import (
	"encoding/binary"

	"github.com/cpaumelle/sensemy-iot-platform/internal/models"
)

// Browan TabsOS sensors share a compact status encoding: battery voltage is
// 2.5V plus the low nibble in 0.1V steps, temperatures are a 7-bit value
// offset by -32°C, humidity is 7 bits with 0x7F meaning sensor error.

func init() {
	register("browan_tbhh100", decodeBrowanTBHH100)
	register("browan_tbhv110", decodeBrowanTBHV110)
	register("browan_tbms100", decodeBrowanTBMS100)
	register("browan_tbdw", decodeBrowanTBDW)
	register("browan_tbdw100", decodeBrowanTBDW)
	register("browan_tbwl", decodeBrowanTBWL)
}

func browanBattery(b byte) float64 {
	return float64(25+(b&0x0F)) / 10
}

func browanTemp(b byte) int {
	return int(b&0x7F) - 32
}

// decodeBrowanTBHH100 handles the TBHH100 temperature/humidity sensor.
// Status uplinks arrive on ports 102, 103 and 107.
func decodeBrowanTBHH100(payload []byte, fport int) (models.DecodedFields, error) {
	const name = "browan_tbhh100"

	if fport != 102 && fport != 103 && fport != 107 {
		return nil, decodeErrorf(name, "unexpected port %d, expected 102, 103 or 107", fport)
	}
	if len(payload) < 4 {
		return nil, decodeErrorf(name, "payload too short: %d bytes, expected at least 4", len(payload))
	}

	humidity := int(payload[3] & 0x7F)

	return models.DecodedFields{
		"battery_voltage": num(browanBattery(payload[1]), "V", 1),
		"temperature":     num(browanTemp(payload[2]), "C", 0),
		"humidity":        num(humidity, "%", 0),
		"humidity_error":  flag(humidity == 127),
	}, nil
}

// decodeBrowanTBHV110 handles the TBHV110 indoor air quality sensor:
// status frames on port 103, config responses on port 204.
func decodeBrowanTBHV110(payload []byte, fport int) (models.DecodedFields, error) {
	const name = "browan_tbhv110"

	switch fport {
	case 103:
		if len(payload) != 11 {
			return nil, decodeErrorf(name, "unexpected status length: %d bytes, expected 11", len(payload))
		}
		status := payload[0]
		return models.DecodedFields{
			"trigger_event":           flag(status&0x01 != 0),
			"temp_changed":            flag(status&0x10 != 0),
			"humidity_changed":        flag(status&0x20 != 0),
			"iaq_changed":             flag(status&0x40 != 0),
			"battery_voltage":         num(browanBattery(payload[1]), "V", 1),
			"pcb_temperature":         num(browanTemp(payload[2]), "C", 0),
			"humidity":                num(int(payload[3]&0x7F), "%", 0),
			"co2_equivalent":          num(int(binary.BigEndian.Uint16(payload[4:6])), "ppm", 0),
			"voc":                     num(int(binary.BigEndian.Uint16(payload[6:8])), "ppb", 0),
			"iaq_index":               count(int(binary.BigEndian.Uint16(payload[8:10]))),
			"environment_temperature": num(browanTemp(payload[10]), "C", 0),
		}, nil

	case 204:
		if len(payload) != 8 {
			return nil, decodeErrorf(name, "unexpected config response length: %d bytes, expected 8", len(payload))
		}
		return models.DecodedFields{
			"keep_alive_interval": num(int(payload[1])*5, "s", 0),
			"temperature_delta":   count(int(payload[3])),
			"humidity_delta":      count(int(payload[5])),
			"iaq_index_delta":     count(int(payload[7])),
		}, nil
	}

	return nil, decodeErrorf(name, "unexpected port %d, expected 103 or 204", fport)
}

// decodeBrowanTBMS100 handles the TBMS100 PIR motion sensor: status on
// port 102, config responses on port 204.
func decodeBrowanTBMS100(payload []byte, fport int) (models.DecodedFields, error) {
	const name = "browan_tbms100"

	switch fport {
	case 102:
		if len(payload) != 8 {
			return nil, decodeErrorf(name, "unexpected status length: %d bytes, expected 8", len(payload))
		}
		timeSince := binary.LittleEndian.Uint16(payload[3:5])
		eventCount := uint32(payload[5]) | uint32(payload[6])<<8 | uint32(payload[7])<<16
		return models.DecodedFields{
			"occupied":              flag(payload[0]&0x01 != 0),
			"battery_voltage":       num(browanBattery(payload[1]), "V", 1),
			"pcb_temperature":       num(browanTemp(payload[2]), "C", 0),
			"time_since_last_event": num(int(timeSince), "min", 0),
			"event_count":           count(int(eventCount)),
		}, nil

	case 204:
		if len(payload) != 16 {
			return nil, decodeErrorf(name, "unexpected config response length: %d bytes, expected 16", len(payload))
		}
		return models.DecodedFields{
			"reporting_interval":  count(int(binary.LittleEndian.Uint16(payload[1:3]))),
			"occupied_interval":   count(int(binary.LittleEndian.Uint16(payload[3:5]))),
			"free_detection_time": count(int(payload[6])),
			"trigger_count":       count(int(binary.LittleEndian.Uint16(payload[8:10]))),
			"pir_config":          count(int(binary.LittleEndian.Uint32(payload[11:15]))),
		}, nil
	}

	return nil, decodeErrorf(name, "unexpected port %d, expected 102 or 204", fport)
}

// decodeBrowanTBDW handles the TBDW100 door/window sensor on port 100.
func decodeBrowanTBDW(payload []byte, fport int) (models.DecodedFields, error) {
	const name = "browan_tbdw"

	if fport != 100 {
		return nil, decodeErrorf(name, "unexpected port %d, expected 100", fport)
	}
	if len(payload) != 8 {
		return nil, decodeErrorf(name, "payload length is %d bytes, expected 8", len(payload))
	}

	open := payload[0]&0x01 != 0
	openShut := "closed"
	status := 0
	if open {
		openShut = "open"
		status = 1
	}
	timeSince := binary.LittleEndian.Uint16(payload[3:5])
	eventCount := uint32(payload[5]) | uint32(payload[6])<<8 | uint32(payload[7])<<16

	return models.DecodedFields{
		"status":                count(status),
		"open_shut":             text(openShut),
		"battery_voltage":       num(browanBattery(payload[1]), "V", 1),
		"pcb_temperature":       num(browanTemp(payload[2]), "C", 0),
		"time_since_last_event": num(int(timeSince), "min", 0),
		"event_count":           count(int(eventCount)),
	}, nil
}

// decodeBrowanTBWL handles the TBWL100 water leak sensor: status on
// port 106, config responses on port 204.
func decodeBrowanTBWL(payload []byte, fport int) (models.DecodedFields, error) {
	const name = "browan_tbwl"

	switch fport {
	case 106:
		if len(payload) != 5 {
			return nil, decodeErrorf(name, "unexpected status length: %d bytes, expected 5", len(payload))
		}
		status := payload[0]
		return models.DecodedFields{
			"leak_detected":           flag(status&0x01 != 0),
			"leak_interrupt":          flag(status&0x10 != 0),
			"temperature_changed":     flag(status&0x20 != 0),
			"humidity_changed":        flag(status&0x40 != 0),
			"battery_voltage":         num(browanBattery(payload[1]), "V", 1),
			"pcb_temperature":         num(browanTemp(payload[2]), "C", 0),
			"humidity":                num(int(payload[3]&0x7F), "%", 0),
			"humidity_error":          flag(payload[3] == 0x7F),
			"environment_temperature": num(browanTemp(payload[4]), "C", 0),
		}, nil

	case 204:
		if len(payload) != 10 {
			return nil, decodeErrorf(name, "unexpected config response length: %d bytes, expected 10", len(payload))
		}
		return models.DecodedFields{
			"keep_alive_interval": count(int(binary.LittleEndian.Uint16(payload[1:3]))),
			"temperature_delta":   count(int(payload[3])),
			"humidity_delta":      count(int(payload[5])),
			"detection_interval":  count(int(binary.LittleEndian.Uint16(payload[7:9]))),
		}, nil
	}

	return nil, decodeErrorf(name, "unexpected port %d, expected 106 or 204", fport)
}
