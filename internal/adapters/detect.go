// SenseMy IoT - LoRaWAN Uplink Ingestion and Enrichment
// Copyright 2026 C. Paumelle (cpaumelle)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cpaumelle/sensemy-iot-platform

package adapters

import (
	"bytes"

	"github.com/goccy/go-json"

	"github.com/cpaumelle/sensemy-iot-platform/internal/models"
)

// fingerprint is one structural predicate in the detection chain.
type fingerprint struct {
	source models.Source
	match  func(obj map[string]json.RawMessage) bool
}

// fingerprints is the closed, ordered set of structural predicates.
// Detection tries them in order; the first match wins. Netmore is handled
// separately because its payloads arrive as a top-level array.
var fingerprints = []fingerprint{
	{models.SourceActility, func(obj map[string]json.RawMessage) bool {
		_, ok := obj["DevEUI_uplink"]
		return ok
	}},
	{models.SourceTTI, func(obj map[string]json.RawMessage) bool {
		_, ok := obj["end_device_ids"]
		return ok
	}},
	{models.SourceChirpStack, func(obj map[string]json.RawMessage) bool {
		_, hasRx := obj["rxInfo"]
		if !hasRx {
			return false
		}
		if _, ok := obj["deviceInfo"]; ok {
			return true
		}
		_, ok := obj["devEUI"] // ChirpStack v3 kept the EUI top-level
		return ok
	}},
}

// Detect fingerprints a webhook body and returns the provider it came
// from. Returns ErrUnknownSource when no predicate matches.
func Detect(body []byte) (models.Source, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "", ErrUnknownSource
	}

	// Netmore is the only provider that posts a top-level array.
	if trimmed[0] == '[' {
		var items []map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil || len(items) == 0 {
			return "", ErrUnknownSource
		}
		_, hasEUI := items[0]["devEui"]
		_, hasPayload := items[0]["payload"]
		if hasEUI && hasPayload {
			return models.SourceNetmore, nil
		}
		return "", ErrUnknownSource
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return "", ErrUnknownSource
	}

	// A bare Netmore object (single uplink without the array wrapper) still
	// detects by the same devEui/payload pair.
	for _, fp := range fingerprints {
		if fp.match(obj) {
			return fp.source, nil
		}
	}
	if _, ok := obj["devEui"]; ok {
		if _, ok := obj["payload"]; ok {
			return models.SourceNetmore, nil
		}
	}

	return "", ErrUnknownSource
}
