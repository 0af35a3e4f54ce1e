// SenseMy IoT - LoRaWAN Uplink Ingestion and Enrichment
// Copyright 2026 C. Paumelle (cpaumelle)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cpaumelle/sensemy-iot-platform

package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cpaumelle/sensemy-iot-platform/internal/adapters"
	"github.com/cpaumelle/sensemy-iot-platform/internal/logging"
	"github.com/cpaumelle/sensemy-iot-platform/internal/metrics"
	"github.com/cpaumelle/sensemy-iot-platform/internal/models"
	"github.com/cpaumelle/sensemy-iot-platform/internal/store"
)

// maxWebhookBody bounds webhook request bodies. Provider payloads are a
// few KB; 1 MB leaves room for verbose gateway metadata.
const maxWebhookBody = 1 << 20

// WebhookAck is the body returned to the network server on accept.
type WebhookAck struct {
	UplinkUUID uuid.UUID `json:"uplink_uuid"`
	Duplicate  bool      `json:"duplicate"`
}

// handleUplinkWebhook ingests one provider uplink. Duplicates acknowledge
// with 200 and the original row's UUID so provider retries terminate.
// Anything downstream of the raw store (enrichment, mirrors) never
// surfaces here.
func (s *Server) handleUplinkWebhook(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		rw.BadRequest("failed to read request body")
		return
	}

	source, err := s.resolveSource(r, body)
	if err != nil {
		metrics.UplinkParseErrors.WithLabelValues("unknown").Inc()
		rw.BadRequest(err.Error())
		return
	}

	up, err := adapters.Parse(body, source)
	if err != nil {
		metrics.UplinkParseErrors.WithLabelValues(string(source)).Inc()
		var perr *adapters.ParseError
		if errors.As(err, &perr) {
			rw.BadRequest(perr.Error())
			return
		}
		rw.BadRequest("malformed uplink payload")
		return
	}

	id, inserted, err := s.store.InsertRawUplink(r.Context(), up)
	if err != nil {
		metrics.UplinksReceived.WithLabelValues(string(source), "rejected").Inc()
		rw.DatabaseError(err)
		return
	}

	if !inserted {
		metrics.UplinksReceived.WithLabelValues(string(source), "duplicate").Inc()
		rw.Success(WebhookAck{UplinkUUID: id, Duplicate: true})
		return
	}
	metrics.UplinksReceived.WithLabelValues(string(source), "accepted").Inc()

	if s.forwarder != nil {
		s.forwarder.Enqueue(&models.RawUplink{
			UplinkUUID: id,
			DevEUI:     up.DevEUI,
			ReceivedAt: up.Timestamp,
			FPort:      up.FPort,
			Payload:    up.PayloadHex,
			Metadata:   up.Metadata,
			Source:     up.Source,
			GatewayEUI: up.GatewayEUI,
			RSSI:       up.RSSI,
			SNR:        up.SNR,
		})
	}

	logging.Debug().
		Str("uplink_uuid", id.String()).
		Str("deveui", up.DevEUI).
		Str("source", string(source)).
		Msg("Uplink accepted")
	rw.Success(WebhookAck{UplinkUUID: id, Duplicate: false})
}

// resolveSource picks the provider from the source query parameter, or
// falls back to structural detection of the body.
func (s *Server) resolveSource(r *http.Request, body []byte) (models.Source, error) {
	if param := r.URL.Query().Get("source"); param != "" {
		source := models.Source(param)
		if !source.Valid() {
			return "", errors.New("unknown source: " + param)
		}
		return source, nil
	}
	return adapters.Detect(body)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	deveui := models.NormalizeDevEUI(chi.URLParam(r, "deveui"))
	dc, err := s.store.GetDeviceContext(r.Context(), deveui)
	if errors.Is(err, store.ErrNotFound) {
		rw.NotFound("device not found: " + deveui)
		return
	}
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(dc)
}

func (s *Server) handleListUplinks(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	filter := store.UplinkFilter{
		DevEUI: models.NormalizeDevEUI(r.URL.Query().Get("deveui")),
		Limit:  s.pageSize(r),
	}
	if src := r.URL.Query().Get("source"); src != "" {
		source := models.Source(src)
		if !source.Valid() {
			rw.BadRequest("unknown source: " + src)
			return
		}
		filter.Source = source
	}
	if since := r.URL.Query().Get("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			rw.BadRequest("since must be RFC 3339")
			return
		}
		filter.Since = ts
	}

	uplinks, err := s.store.ListRawUplinks(r.Context(), filter)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	if uplinks == nil {
		uplinks = []*models.RawUplink{}
	}
	rw.SuccessWithPagination(uplinks, &PaginationMeta{
		Count:   len(uplinks),
		Limit:   filter.Limit,
		HasMore: len(uplinks) == filter.Limit,
	})
}

func (s *Server) handleGetUplink(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id, err := uuid.Parse(chi.URLParam(r, "uuid"))
	if err != nil {
		rw.BadRequest("invalid uplink UUID")
		return
	}

	// Prefer the enriched view; fall back to the raw row for uplinks
	// still in flight.
	if processed, err := s.store.GetProcessedUplink(r.Context(), id); err == nil {
		rw.Success(processed)
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		rw.DatabaseError(err)
		return
	}

	raw, err := s.store.GetRawUplink(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		rw.NotFound("uplink not found")
		return
	}
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(raw)
}

func (s *Server) handleGetUplinkLogs(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id, err := uuid.Parse(chi.URLParam(r, "uuid"))
	if err != nil {
		rw.BadRequest("invalid uplink UUID")
		return
	}

	logs, err := s.store.GetEnrichmentLogs(r.Context(), id)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	if len(logs) == 0 {
		// Distinguish "no logs yet" from "no such uplink".
		if _, err := s.store.GetRawUplink(r.Context(), id); errors.Is(err, store.ErrNotFound) {
			rw.NotFound("uplink not found")
			return
		} else if err != nil {
			rw.DatabaseError(err)
			return
		}
		logs = []*models.EnrichmentLogEntry{}
	}
	rw.Success(logs)
}

func (s *Server) handleListGateways(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	gateways, err := s.store.ListGateways(r.Context())
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	if gateways == nil {
		gateways = []*models.Gateway{}
	}
	rw.Success(gateways)
}

// pageSize resolves the limit query parameter against configured bounds.
func (s *Server) pageSize(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return s.cfg.DefaultPageSize
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return s.cfg.DefaultPageSize
	}
	if limit > s.cfg.MaxPageSize {
		return s.cfg.MaxPageSize
	}
	return limit
}
