// SenseMy IoT - LoRaWAN Uplink Ingestion and Enrichment
// Copyright 2026 C. Paumelle (cpaumelle)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cpaumelle/sensemy-iot-platform

package api

import (
	"net/http"
	"time"
)

type healthStatus struct {
	Status string    `json:"status"`
	Checks []check   `json:"checks,omitempty"`
	Time   time.Time `json:"time"`
}

type check struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// handleHealthLive reports process liveness. It never touches dependencies
// so a wedged database does not get the pod restarted.
func (s *Server) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(healthStatus{Status: "ok", Time: time.Now().UTC()})
}

// handleHealthReady reports readiness to take traffic: the store must
// answer a ping.
func (s *Server) handleHealthReady(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	status := healthStatus{Status: "ok", Time: time.Now().UTC()}
	dbCheck := check{Name: "database", Status: "ok"}
	if err := s.store.Ping(r.Context()); err != nil {
		dbCheck.Status = "failed"
		dbCheck.Error = err.Error()
		status.Status = "degraded"
	}
	status.Checks = append(status.Checks, dbCheck)

	if status.Status != "ok" {
		rw.Error(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "not ready")
		return
	}
	rw.Success(status)
}
