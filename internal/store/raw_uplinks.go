// SenseMy IoT - LoRaWAN Uplink Ingestion and Enrichment
// Copyright 2026 C. Paumelle (cpaumelle)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cpaumelle/sensemy-iot-platform

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/cpaumelle/sensemy-iot-platform/internal/logging"
	"github.com/cpaumelle/sensemy-iot-platform/internal/models"
)

// InsertRawUplink persists a canonical uplink as a raw intake row with
// duplicate handling.
//
// Deduplication strategy:
//   - A unique index on (deveui, received_at, source) identifies provider
//     webhook retries, which replay the same uplink verbatim
//   - INSERT ... ON CONFLICT DO NOTHING (DuckDB-native) suppresses the
//     duplicate without an error, keeping the intake path idempotent
//   - The returned bool reports whether a new row was written; callers use
//     it to skip forwarding for duplicates while still acknowledging them
//
// A fresh UUID is minted per accepted row and becomes the uplink's identity
// through enrichment, the audit trail and the processed store.
func (s *Store) InsertRawUplink(ctx context.Context, up *models.CanonicalUplink) (uuid.UUID, bool, error) {
	ctx, cancel := queryContext(ctx)
	defer cancel()

	uplinkUUID := uuid.New()

	metadata := "{}"
	if len(up.Metadata) > 0 {
		metadata = string(up.Metadata)
	}

	query := `INSERT INTO raw_uplinks (
		uplink_uuid, deveui, received_at, fport, payload, payload_hex,
		uplink_metadata, source, gateway_eui, rssi, snr, processed
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, FALSE)
	ON CONFLICT (deveui, received_at, source) DO NOTHING`

	result, err := s.conn.ExecContext(ctx, query,
		uplinkUUID, up.DevEUI, up.Timestamp.UTC(), up.FPort,
		up.Payload, up.PayloadHex, metadata, string(up.Source),
		nullString(up.GatewayEUI), up.RSSI, up.SNR,
	)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to insert raw uplink: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to check insert result: %w", err)
	}

	if rows == 0 {
		// Webhook retry replaying an uplink we already hold. Return the
		// identity of the original row so callers can report it.
		existing, lookupErr := s.findRawUplinkUUID(ctx, up.DevEUI, up.Timestamp.UTC(), up.Source)
		if lookupErr != nil {
			logging.Warn().Err(lookupErr).
				Str("deveui", up.DevEUI).
				Msg("Duplicate uplink suppressed but original row lookup failed")
			return uuid.Nil, false, nil
		}
		return existing, false, nil
	}

	return uplinkUUID, true, nil
}

func (s *Store) findRawUplinkUUID(ctx context.Context, deveui string, receivedAt time.Time, source models.Source) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.conn.QueryRowContext(ctx,
		`SELECT uplink_uuid FROM raw_uplinks WHERE deveui = ? AND received_at = ? AND source = ?`,
		deveui, receivedAt, string(source),
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to look up raw uplink: %w", err)
	}
	return id, nil
}

// GetRawUplink fetches a single raw intake row by its UUID.
func (s *Store) GetRawUplink(ctx context.Context, id uuid.UUID) (*models.RawUplink, error) {
	ctx, cancel := queryContext(ctx)
	defer cancel()

	row := s.conn.QueryRowContext(ctx, `
		SELECT uplink_id, uplink_uuid, deveui, received_at, fport,
		       payload_hex, uplink_metadata, source, processed, gateway_eui, rssi, snr
		FROM raw_uplinks WHERE uplink_uuid = ?`, id)

	return scanRawUplink(row)
}

// ClaimForProcessing attempts to take an exclusive enrichment lease on a raw
// uplink by flipping its processed flag. Exactly one caller wins:
// RowsAffected tells concurrent claimers apart without a separate lock table.
func (s *Store) ClaimForProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	ctx, cancel := queryContext(ctx)
	defer cancel()

	result, err := s.conn.ExecContext(ctx,
		`UPDATE raw_uplinks SET processed = TRUE WHERE uplink_uuid = ? AND processed = FALSE`, id)
	if err != nil {
		return false, fmt.Errorf("failed to claim uplink %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check claim result: %w", err)
	}
	return rows == 1, nil
}

// ReleaseClaim returns a claimed uplink to the backlog so a later sweep can
// retry it. Used when enrichment fails before reaching a terminal outcome.
func (s *Store) ReleaseClaim(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := queryContext(ctx)
	defer cancel()

	if _, err := s.conn.ExecContext(ctx,
		`UPDATE raw_uplinks SET processed = FALSE WHERE uplink_uuid = ?`, id); err != nil {
		return fmt.Errorf("failed to release claim on uplink %s: %w", id, err)
	}
	return nil
}

// ListPendingUplinks returns up to limit unprocessed uplinks in arrival
// order, for the enrichment backlog sweep.
func (s *Store) ListPendingUplinks(ctx context.Context, limit int) ([]*models.RawUplink, error) {
	ctx, cancel := queryContext(ctx)
	defer cancel()

	rows, err := s.conn.QueryContext(ctx, `
		SELECT uplink_id, uplink_uuid, deveui, received_at, fport,
		       payload_hex, uplink_metadata, source, processed, gateway_eui, rssi, snr
		FROM raw_uplinks
		WHERE processed = FALSE
		ORDER BY received_at ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending uplinks: %w", err)
	}
	defer closeRows(rows)

	return collectRawUplinks(rows)
}

// UplinkFilter narrows ListRawUplinks results. Zero values mean no filter.
type UplinkFilter struct {
	DevEUI string
	Source models.Source
	Since  time.Time
	Limit  int
}

// ListRawUplinks returns the most recent raw uplinks matching the filter,
// newest first. Serves the read-only intake API.
func (s *Store) ListRawUplinks(ctx context.Context, filter UplinkFilter) ([]*models.RawUplink, error) {
	ctx, cancel := queryContext(ctx)
	defer cancel()

	query := `SELECT uplink_id, uplink_uuid, deveui, received_at, fport,
		payload_hex, uplink_metadata, source, processed, gateway_eui, rssi, snr
		FROM raw_uplinks WHERE 1=1`
	args := []any{}

	if filter.DevEUI != "" {
		query += " AND deveui = ?"
		args = append(args, filter.DevEUI)
	}
	if filter.Source != "" {
		query += " AND source = ?"
		args = append(args, string(filter.Source))
	}
	if !filter.Since.IsZero() {
		query += " AND received_at >= ?"
		args = append(args, filter.Since.UTC())
	}

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += " ORDER BY received_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list raw uplinks: %w", err)
	}
	defer closeRows(rows)

	return collectRawUplinks(rows)
}

// ListFailedUnpackUplinks returns claimed uplinks whose latest enrichment
// log entry is a decode failure and which never produced a processed row.
// Serves the opt-in failed-unpack retry sweep.
func (s *Store) ListFailedUnpackUplinks(ctx context.Context, limit int) ([]*models.RawUplink, error) {
	ctx, cancel := queryContext(ctx)
	defer cancel()

	rows, err := s.conn.QueryContext(ctx, `
		SELECT r.uplink_id, r.uplink_uuid, r.deveui, r.received_at, r.fport,
		       r.payload_hex, r.uplink_metadata, r.source, r.processed,
		       r.gateway_eui, r.rssi, r.snr
		FROM raw_uplinks r
		WHERE r.processed = TRUE
		  AND NOT EXISTS (
			SELECT 1 FROM processed_uplinks p WHERE p.uplink_uuid = r.uplink_uuid
		  )
		  AND EXISTS (
			SELECT 1 FROM enrichment_logs l
			WHERE l.uplink_uuid = r.uplink_uuid
			  AND l.step = 'FAILED_UNPACK'
			  AND l.created_at = (
				SELECT MAX(l2.created_at) FROM enrichment_logs l2
				WHERE l2.uplink_uuid = r.uplink_uuid
			  )
		  )
		ORDER BY r.received_at ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed-unpack uplinks: %w", err)
	}
	defer closeRows(rows)

	return collectRawUplinks(rows)
}

// CountPendingUplinks returns the current enrichment backlog depth.
func (s *Store) CountPendingUplinks(ctx context.Context) (int64, error) {
	ctx, cancel := queryContext(ctx)
	defer cancel()

	var n int64
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM raw_uplinks WHERE processed = FALSE`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending uplinks: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRawUplink(row rowScanner) (*models.RawUplink, error) {
	var (
		up         models.RawUplink
		payloadHex sql.NullString
		metadata   sql.NullString
		source     string
		gatewayEUI sql.NullString
	)

	err := row.Scan(&up.UplinkID, &up.UplinkUUID, &up.DevEUI, &up.ReceivedAt,
		&up.FPort, &payloadHex, &metadata, &source, &up.Processed,
		&gatewayEUI, &up.RSSI, &up.SNR)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan raw uplink: %w", err)
	}

	up.Payload = payloadHex.String
	up.Source = models.Source(source)
	up.GatewayEUI = gatewayEUI.String
	if metadata.Valid && metadata.String != "" {
		up.Metadata = json.RawMessage(metadata.String)
	}
	up.ReceivedAt = up.ReceivedAt.UTC()

	return &up, nil
}

func collectRawUplinks(rows *sql.Rows) ([]*models.RawUplink, error) {
	var uplinks []*models.RawUplink
	for rows.Next() {
		up, err := scanRawUplink(rows)
		if err != nil {
			return nil, err
		}
		uplinks = append(uplinks, up)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate raw uplinks: %w", err)
	}
	return uplinks, nil
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		logging.Warn().Err(err).Msg("Failed to close result rows")
	}
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
