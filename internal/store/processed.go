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

	"github.com/cpaumelle/sensemy-iot-platform/internal/models"
)

// InsertProcessedUplink writes an enriched uplink. The uplink UUID is the
// primary key, so replaying enrichment for an already-processed uplink is a
// no-op rather than a second row.
func (s *Store) InsertProcessedUplink(ctx context.Context, up *models.ProcessedUplink) error {
	ctx, cancel := queryContext(ctx)
	defer cancel()

	metadata := "{}"
	if len(up.Metadata) > 0 {
		metadata = string(up.Metadata)
	}
	var decoded any
	if len(up.PayloadDecoded) > 0 {
		decoded = string(up.PayloadDecoded)
	}

	query := `INSERT INTO processed_uplinks (
		uplink_uuid, deveui, timestamp, fport, payload, uplink_metadata,
		payload_decoded, device_type_id, site_id, floor_id, room_id, zone_id,
		gateway_eui, source
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (uplink_uuid) DO NOTHING`

	_, err := s.conn.ExecContext(ctx, query,
		up.UplinkUUID, up.DevEUI, up.Timestamp.UTC(), up.FPort, up.Payload,
		metadata, decoded, up.DeviceTypeID,
		up.SiteID, up.FloorID, up.RoomID, up.ZoneID,
		nullString(up.GatewayEUI), string(up.Source),
	)
	if err != nil {
		return fmt.Errorf("failed to insert processed uplink: %w", err)
	}
	return nil
}

// GetProcessedUplink fetches a processed uplink by its UUID.
func (s *Store) GetProcessedUplink(ctx context.Context, id uuid.UUID) (*models.ProcessedUplink, error) {
	ctx, cancel := queryContext(ctx)
	defer cancel()

	row := s.conn.QueryRowContext(ctx, `
		SELECT uplink_uuid, deveui, timestamp, fport, payload, uplink_metadata,
		       payload_decoded, device_type_id, site_id, floor_id, room_id,
		       zone_id, gateway_eui, source
		FROM processed_uplinks WHERE uplink_uuid = ?`, id)

	return scanProcessedUplink(row)
}

// ListProcessedUplinks returns the most recent processed uplinks for a
// device, newest first.
func (s *Store) ListProcessedUplinks(ctx context.Context, deveui string, since time.Time, limit int) ([]*models.ProcessedUplink, error) {
	ctx, cancel := queryContext(ctx)
	defer cancel()

	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `SELECT uplink_uuid, deveui, timestamp, fport, payload, uplink_metadata,
		payload_decoded, device_type_id, site_id, floor_id, room_id,
		zone_id, gateway_eui, source
		FROM processed_uplinks WHERE deveui = ?`
	args := []any{deveui}

	if !since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, since.UTC())
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list processed uplinks: %w", err)
	}
	defer closeRows(rows)

	var uplinks []*models.ProcessedUplink
	for rows.Next() {
		up, err := scanProcessedUplink(rows)
		if err != nil {
			return nil, err
		}
		uplinks = append(uplinks, up)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate processed uplinks: %w", err)
	}
	return uplinks, nil
}

func scanProcessedUplink(row rowScanner) (*models.ProcessedUplink, error) {
	var (
		up         models.ProcessedUplink
		metadata   sql.NullString
		decoded    sql.NullString
		gatewayEUI sql.NullString
		source     string
	)

	err := row.Scan(&up.UplinkUUID, &up.DevEUI, &up.Timestamp, &up.FPort,
		&up.Payload, &metadata, &decoded, &up.DeviceTypeID,
		&up.SiteID, &up.FloorID, &up.RoomID, &up.ZoneID,
		&gatewayEUI, &source)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan processed uplink: %w", err)
	}

	if metadata.Valid && metadata.String != "" {
		up.Metadata = json.RawMessage(metadata.String)
	}
	if decoded.Valid && decoded.String != "" {
		up.PayloadDecoded = json.RawMessage(decoded.String)
	}
	up.GatewayEUI = gatewayEUI.String
	up.Source = models.Source(source)
	up.Timestamp = up.Timestamp.UTC()

	return &up, nil
}
