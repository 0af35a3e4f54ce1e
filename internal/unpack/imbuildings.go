// SenseMy IoT - LoRaWAN Uplink Ingestion and Enrichment
// Copyright 2026 C. Paumelle (cpaumelle)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cpaumelle/sensemy-iot-platform

package unpack

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/cpaumelle/sensemy-iot-platform/internal/models"
)

func init() {
	register("imbuildings_pc1", decodeIMBuildingsPC1)
}

// decodeIMBuildingsPC1 handles the IMBuildings people counter, payload
// type 0x02 variant 0x06: a fixed 23-byte frame embedding the device EUI,
// battery voltage and bidirectional counters.
func decodeIMBuildingsPC1(payload []byte, fport int) (models.DecodedFields, error) {
	const name = "imbuildings_pc1"

	if len(payload) != 23 {
		return nil, decodeErrorf(name, "expected 23-byte payload for type 2 variant 6, got %d bytes", len(payload))
	}
	if payload[0] != 0x02 || payload[1] != 0x06 {
		return nil, decodeErrorf(name, "unsupported payload type/variant: %02x/%02x", payload[0], payload[1])
	}

	batteryMV := binary.BigEndian.Uint16(payload[11:13])

	return models.DecodedFields{
		"dev_eui":          text(hex.EncodeToString(payload[2:10])),
		"status_byte":      count(int(payload[10])),
		"battery_voltage":  num(float64(batteryMV)/1000, "V", 3),
		"counter_a":        count(int(binary.BigEndian.Uint16(payload[13:15]))),
		"counter_b":        count(int(binary.BigEndian.Uint16(payload[15:17]))),
		"status_flags_raw": text(fmt.Sprintf("%08b", payload[17])),
		"total_counter_a":  count(int(binary.BigEndian.Uint16(payload[18:20]))),
		"total_counter_b":  count(int(binary.BigEndian.Uint16(payload[20:22]))),
		"payload_counter":  count(int(payload[22])),
	}, nil
}
