// SenseMy IoT - LoRaWAN Uplink Ingestion and Enrichment
// Copyright 2026 C. Paumelle (cpaumelle)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cpaumelle/sensemy-iot-platform

// Package unpack decodes raw device payloads into named, typed fields.
//
// Each supported device family registers a decoder under the unpacker
// identifier carried by its device type. Decoders are pure functions from
// (payload bytes, fport) to a field map; they know nothing about providers,
// storage or the enrichment pipeline.
package unpack

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/cpaumelle/sensemy-iot-platform/internal/models"
)

// ErrUnknownUnpacker is returned when a device type names a decoder that is
// not registered.
var ErrUnknownUnpacker = errors.New("unknown unpacker")

// DecodeError reports a payload that could not be decoded by its device's
// decoder. It is a terminal outcome for the uplink's unpack step, not a
// transient fault.
type DecodeError struct {
	Unpacker string
	Reason   string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("unpacker %s: %s", e.Unpacker, e.Reason)
}

func decodeErrorf(unpacker, format string, args ...any) error {
	return &DecodeError{Unpacker: unpacker, Reason: fmt.Sprintf(format, args...)}
}

// Func decodes a device payload received on the given port.
type Func func(payload []byte, fport int) (models.DecodedFields, error)

var registry = map[string]Func{}

// register installs a decoder at package init. Duplicate names are a
// programming error.
func register(name string, fn Func) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("unpack: duplicate decoder registration %q", name))
	}
	registry[name] = fn
}

// Lookup returns the decoder registered under name.
func Lookup(name string) (Func, error) {
	fn, ok := registry[strings.TrimSpace(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownUnpacker, name)
	}
	return fn, nil
}

// Names returns the registered decoder identifiers, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Decode runs the named decoder under the context's deadline. Decoders are
// CPU-bound, so the deadline guards against a pathological payload wedging
// the enrichment worker rather than against I/O.
func Decode(ctx context.Context, name string, payload []byte, fport int) (models.DecodedFields, error) {
	fn, err := Lookup(name)
	if err != nil {
		return nil, err
	}

	type result struct {
		fields models.DecodedFields
		err    error
	}

	ch := make(chan result, 1)
	go func() {
		fields, err := fn(payload, fport)
		ch <- result{fields, err}
	}()

	select {
	case <-ctx.Done():
		return nil, &DecodeError{Unpacker: name, Reason: ctx.Err().Error()}
	case res := <-ch:
		return res.fields, res.err
	}
}

// Field constructors shared by the decoders.

func num(value any, unit string, precision int) models.DecodedField {
	return models.DecodedField{Value: value, Unit: unit, Precision: precision}
}

func count(value any) models.DecodedField {
	return models.DecodedField{Value: value}
}

func flag(value bool) models.DecodedField {
	return models.DecodedField{Value: value}
}

func text(value string) models.DecodedField {
	return models.DecodedField{Value: value}
}
