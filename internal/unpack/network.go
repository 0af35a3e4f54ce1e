// SenseMy IoT - LoRaWAN Uplink Ingestion and Enrichment
// Copyright 2026 C. Paumelle (cpaumelle)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cpaumelle/sensemy-iot-platform

package unpack

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/cpaumelle/sensemy-iot-platform/internal/models"
)

func init() {
	register("atim_acw_lw8", decodeATIMACWLW8)
	register("netvox_r716", decodeNetvoxR716)
}

// decodeATIMACWLW8 handles the ATIM ACW/LW8-TST network tester: a single
// signal quality byte on port 2.
func decodeATIMACWLW8(payload []byte, fport int) (models.DecodedFields, error) {
	const name = "atim_acw_lw8"

	if fport != 2 {
		return nil, decodeErrorf(name, "unexpected port %d, expected 2", fport)
	}
	if len(payload) != 1 {
		return nil, decodeErrorf(name, "unexpected payload length: %d bytes, expected 1", len(payload))
	}

	status := payload[0]
	var description string
	switch status {
	case 0x00:
		description = "Waiting for network"
	case 0x01:
		description = "No signal"
	case 0x02:
		description = "Low signal"
	case 0x03:
		description = "Good signal"
	case 0x04:
		description = "Excellent signal"
	default:
		description = fmt.Sprintf("Unknown status: %d", status)
	}

	return models.DecodedFields{
		"status":      count(int(status)),
		"description": text(description),
	}, nil
}

// decodeNetvoxR716 handles the Netvox R716 wireless button on port 6. The
// only documented press frame is 11 zero bytes; anything else is reported
// raw for inspection rather than rejected.
func decodeNetvoxR716(payload []byte, fport int) (models.DecodedFields, error) {
	const name = "netvox_r716"

	if fport != 6 {
		return nil, decodeErrorf(name, "unexpected port %d, expected 6", fport)
	}

	if len(payload) == 11 && bytes.Equal(payload, make([]byte, 11)) {
		return models.DecodedFields{
			"button_pressed": flag(true),
			"payload_valid":  flag(true),
			"raw_length":     count(len(payload)),
		}, nil
	}

	return models.DecodedFields{
		"button_pressed": flag(false),
		"payload_valid":  flag(false),
		"raw_hex":        text(hex.EncodeToString(payload)),
		"raw_length":     count(len(payload)),
	}, nil
}
