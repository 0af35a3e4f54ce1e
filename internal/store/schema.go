// SenseMy IoT - LoRaWAN Uplink Ingestion and Enrichment
// Copyright 2026 C. Paumelle (cpaumelle)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cpaumelle/sensemy-iot-platform

/*
schema.go - Database Schema Management

This file manages the DuckDB schema: table creation, sequences and
index management.

Tables:
  - raw_uplinks: append-only ingest log, one row per accepted uplink
  - processed_uplinks: enriched uplinks with resolved context and decoded payload
  - enrichment_logs: audit trail of enrichment step outcomes per uplink
  - device_context: device twin (type + location assignment + lifecycle)
  - device_types: device catalog mapping a type to its payload decoder
  - locations: site/floor/room/zone hierarchy
  - gateways: gateway registry maintained from uplink metadata

Schema Strategy:
All columns are defined in the initial CREATE TABLE statements. This keeps a
single source of truth for the complete schema and avoids migration machinery
before the first public release.

Index Strategy:
  - Unique (deveui, received_at, source) on raw_uplinks implements provider
    retry deduplication via INSERT ... ON CONFLICT DO NOTHING
  - processed=FALSE scans back the enrichment backlog sweep
  - deveui indexes serve the device history read endpoints
*/
package store

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createTables creates the core database tables and sequences
func (s *Store) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	queries := []string{
		`CREATE SEQUENCE IF NOT EXISTS seq_raw_uplink_id START 1;`,

		`CREATE TABLE IF NOT EXISTS raw_uplinks (
			uplink_id BIGINT PRIMARY KEY DEFAULT nextval('seq_raw_uplink_id'),
			uplink_uuid UUID NOT NULL UNIQUE,
			deveui TEXT NOT NULL,
			received_at TIMESTAMP NOT NULL,
			fport INTEGER NOT NULL,
			payload BLOB,
			payload_hex TEXT,
			uplink_metadata JSON,
			source TEXT NOT NULL,
			gateway_eui TEXT,
			rssi DOUBLE,
			snr DOUBLE,
			processed BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);`,

		`CREATE TABLE IF NOT EXISTS processed_uplinks (
			uplink_uuid UUID PRIMARY KEY,
			deveui TEXT NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			fport INTEGER NOT NULL,
			payload BLOB,
			uplink_metadata JSON,
			payload_decoded JSON,
			device_type_id INTEGER,
			site_id UUID,
			floor_id UUID,
			room_id UUID,
			zone_id UUID,
			gateway_eui TEXT,
			source TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);`,

		`CREATE TABLE IF NOT EXISTS enrichment_logs (
			log_id UUID PRIMARY KEY,
			uplink_uuid UUID NOT NULL,
			step TEXT NOT NULL,
			status TEXT NOT NULL,
			detail TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);`,

		`CREATE TABLE IF NOT EXISTS device_context (
			deveui TEXT PRIMARY KEY,
			device_type_id INTEGER,
			site_id UUID,
			floor_id UUID,
			room_id UUID,
			zone_id UUID,
			lifecycle_state TEXT NOT NULL DEFAULT 'unassigned',
			last_gateway TEXT,
			assigned_at TIMESTAMP,
			unassigned_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);`,

		`CREATE TABLE IF NOT EXISTS device_types (
			device_type_id INTEGER PRIMARY KEY,
			device_type TEXT NOT NULL,
			description TEXT,
			unpacker TEXT
		);`,

		`CREATE TABLE IF NOT EXISTS locations (
			location_id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			parent_id UUID
		);`,

		`CREATE TABLE IF NOT EXISTS gateways (
			gw_eui TEXT PRIMARY KEY,
			gateway_name TEXT,
			last_seen_at TIMESTAMP,
			status TEXT NOT NULL DEFAULT 'online',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);`,
	}

	for _, query := range queries {
		if _, err := s.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}

	return nil
}

// createIndexes creates performance and deduplication indexes
func (s *Store) createIndexes() error {
	ctx, cancel := schemaContext()
	defer cancel()

	queries := []string{
		// Duplicate suppression: provider webhook retries carry the same
		// device, timestamp and source.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_raw_dedup ON raw_uplinks(deveui, received_at, source);`,

		`CREATE INDEX IF NOT EXISTS idx_raw_pending ON raw_uplinks(processed, received_at);`,
		`CREATE INDEX IF NOT EXISTS idx_raw_deveui ON raw_uplinks(deveui, received_at);`,
		`CREATE INDEX IF NOT EXISTS idx_processed_deveui ON processed_uplinks(deveui, timestamp);`,
		`CREATE INDEX IF NOT EXISTS idx_logs_uplink ON enrichment_logs(uplink_uuid, created_at);`,
	}

	for _, query := range queries {
		if _, err := s.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create index: %s: %w", query, err)
		}
	}

	return nil
}
