// SenseMy IoT - LoRaWAN Uplink Ingestion and Enrichment
// Copyright 2026 C. Paumelle (cpaumelle)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cpaumelle/sensemy-iot-platform

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cpaumelle/sensemy-iot-platform/internal/config"
	"github.com/cpaumelle/sensemy-iot-platform/internal/models"
	"github.com/cpaumelle/sensemy-iot-platform/internal/store"
)

// Enqueuer hands accepted uplinks to the forwarder. Returns false when the
// queue is full; the uplink is then left to the enrichment sweep.
type Enqueuer interface {
	Enqueue(up *models.RawUplink) bool
}

// Server holds handler dependencies.
type Server struct {
	store     *store.Store
	forwarder Enqueuer
	cfg       config.APIConfig
}

// NewServer creates the HTTP server surface. forwarder may be nil, in
// which case accepted uplinks wait for the sweep.
func NewServer(st *store.Store, fwd Enqueuer, cfg config.APIConfig) *Server {
	return &Server{store: st, forwarder: fwd, cfg: cfg}
}

// Router builds the chi route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	// Ingress webhook. Network servers retry aggressively, so the limit is
	// per-IP and generous.
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(s.cfg.RateLimitReqs, s.cfg.RateLimitWindow))
		r.Post("/uplink", s.handleUplinkWebhook)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health/live", s.handleHealthLive)
		r.Get("/health/ready", s.handleHealthReady)

		r.Get("/devices/{deveui}", s.handleGetDevice)
		r.Get("/uplinks", s.handleListUplinks)
		r.Get("/uplinks/{uuid}", s.handleGetUplink)
		r.Get("/uplinks/{uuid}/logs", s.handleGetUplinkLogs)
		r.Get("/gateways", s.handleListGateways)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
