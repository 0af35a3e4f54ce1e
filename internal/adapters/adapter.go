// SenseMy IoT - LoRaWAN Uplink Ingestion and Enrichment
// Copyright 2026 C. Paumelle (cpaumelle)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cpaumelle/sensemy-iot-platform

// Package adapters normalizes provider webhook bodies into the canonical
// uplink schema. One parser per network-server provider, plus structural
// auto-detection for callers that omit the source query parameter.
//
// Parsing is a pure function of the request body: no I/O, no clock reads
// except the received-at fallback when a provider omits its timestamp.
package adapters

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/cpaumelle/sensemy-iot-platform/internal/models"
)

// ErrUnknownSource is returned when no structural fingerprint matches and
// the caller did not declare a source.
var ErrUnknownSource = errors.New("unable to detect uplink source")

// ParseError reports a malformed or incomplete provider payload. It maps
// to a 400 response at the webhook; nothing is stored.
type ParseError struct {
	Source models.Source
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s uplink: %s: %v", e.Source, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse %s uplink: %s", e.Source, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// validate checks canonical uplinks after parsing. Shared instance; the
// validator is safe for concurrent use.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Parse converts a raw webhook body into a canonical uplink. When source is
// non-empty it dispatches directly to that provider's parser; otherwise the
// body is fingerprinted with Detect.
func Parse(body []byte, source models.Source) (*models.CanonicalUplink, error) {
	if source == "" {
		detected, err := Detect(body)
		if err != nil {
			return nil, err
		}
		source = detected
	}

	var (
		up  *models.CanonicalUplink
		err error
	)
	switch source {
	case models.SourceActility:
		up, err = parseActility(body)
	case models.SourceNetmore:
		up, err = parseNetmore(body)
	case models.SourceTTI:
		up, err = parseTTI(body)
	case models.SourceChirpStack:
		up, err = parseChirpStack(body)
	default:
		return nil, &ParseError{Source: source, Reason: "unsupported source"}
	}
	if err != nil {
		return nil, err
	}

	up.DevEUI = models.NormalizeDevEUI(up.DevEUI)
	if err := validate.Struct(up); err != nil {
		return nil, &ParseError{Source: source, Reason: "canonical validation failed", Err: err}
	}
	return up, nil
}

// parseTimestamp parses a provider timestamp to UTC, falling back to the
// current time when the value is absent or unparseable. Mirrors the
// tolerant intake behavior providers expect: a bad clock never rejects an
// uplink.
func parseTimestamp(raw string) time.Time {
	if raw == "" {
		return time.Now().UTC()
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC()
		}
	}
	return time.Now().UTC()
}
