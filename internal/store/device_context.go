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

	"github.com/google/uuid"

	"github.com/cpaumelle/sensemy-iot-platform/internal/models"
)

// GetDeviceContext fetches the twin row for a device, or ErrNotFound.
func (s *Store) GetDeviceContext(ctx context.Context, deveui string) (*models.DeviceContext, error) {
	ctx, cancel := queryContext(ctx)
	defer cancel()

	var (
		dc          models.DeviceContext
		state       string
		lastGateway sql.NullString
	)

	err := s.conn.QueryRowContext(ctx, `
		SELECT deveui, device_type_id, site_id, floor_id, room_id, zone_id,
		       lifecycle_state, last_gateway, assigned_at, unassigned_at
		FROM device_context WHERE deveui = ?`, deveui,
	).Scan(&dc.DevEUI, &dc.DeviceTypeID, &dc.SiteID, &dc.FloorID, &dc.RoomID,
		&dc.ZoneID, &state, &lastGateway, &dc.AssignedAt, &dc.UnassignedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get device context for %s: %w", deveui, err)
	}

	dc.LifecycleState = models.LifecycleState(state)
	dc.LastGateway = lastGateway.String
	return &dc, nil
}

// CreateOrphanDevice registers a first-seen device with no type and no
// location assignment. Concurrent creation for the same DevEUI is resolved
// by the primary key; the loser reads the winner's row.
func (s *Store) CreateOrphanDevice(ctx context.Context, deveui string) (*models.DeviceContext, error) {
	ctx, cancel := queryContext(ctx)
	defer cancel()

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO device_context (deveui, lifecycle_state)
		VALUES (?, ?)
		ON CONFLICT (deveui) DO NOTHING`,
		deveui, string(models.LifecycleUnassigned))
	if err != nil {
		return nil, fmt.Errorf("failed to create orphan device %s: %w", deveui, err)
	}

	return s.GetDeviceContext(ctx, deveui)
}

// UpsertDeviceContext writes the full twin row, replacing any existing
// assignment for the device.
func (s *Store) UpsertDeviceContext(ctx context.Context, dc *models.DeviceContext) error {
	ctx, cancel := queryContext(ctx)
	defer cancel()

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO device_context (
			deveui, device_type_id, site_id, floor_id, room_id, zone_id,
			lifecycle_state, last_gateway, assigned_at, unassigned_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (deveui) DO UPDATE SET
			device_type_id = excluded.device_type_id,
			site_id = excluded.site_id,
			floor_id = excluded.floor_id,
			room_id = excluded.room_id,
			zone_id = excluded.zone_id,
			lifecycle_state = excluded.lifecycle_state,
			last_gateway = excluded.last_gateway,
			assigned_at = excluded.assigned_at,
			unassigned_at = excluded.unassigned_at,
			updated_at = CURRENT_TIMESTAMP`,
		dc.DevEUI, dc.DeviceTypeID, dc.SiteID, dc.FloorID, dc.RoomID, dc.ZoneID,
		string(dc.LifecycleState), nullString(dc.LastGateway),
		dc.AssignedAt, dc.UnassignedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert device context for %s: %w", dc.DevEUI, err)
	}
	return nil
}

// TouchDeviceGateway records the gateway that last relayed for a device.
// Best-effort; a miss only means stale telemetry on the twin.
func (s *Store) TouchDeviceGateway(ctx context.Context, deveui, gatewayEUI string) error {
	if gatewayEUI == "" {
		return nil
	}
	ctx, cancel := queryContext(ctx)
	defer cancel()

	_, err := s.conn.ExecContext(ctx, `
		UPDATE device_context SET last_gateway = ?, updated_at = CURRENT_TIMESTAMP
		WHERE deveui = ?`, gatewayEUI, deveui)
	if err != nil {
		return fmt.Errorf("failed to update last gateway for %s: %w", deveui, err)
	}
	return nil
}

// GetDeviceType fetches a device type by id, or ErrNotFound.
func (s *Store) GetDeviceType(ctx context.Context, deviceTypeID int) (*models.DeviceType, error) {
	ctx, cancel := queryContext(ctx)
	defer cancel()

	var (
		dt          models.DeviceType
		description sql.NullString
		unpacker    sql.NullString
	)

	err := s.conn.QueryRowContext(ctx, `
		SELECT device_type_id, device_type, description, unpacker
		FROM device_types WHERE device_type_id = ?`, deviceTypeID,
	).Scan(&dt.DeviceTypeID, &dt.DeviceType, &description, &unpacker)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get device type %d: %w", deviceTypeID, err)
	}

	dt.Description = description.String
	dt.Unpacker = unpacker.String
	return &dt, nil
}

// UpsertDeviceType writes a device catalog entry.
func (s *Store) UpsertDeviceType(ctx context.Context, dt *models.DeviceType) error {
	ctx, cancel := queryContext(ctx)
	defer cancel()

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO device_types (device_type_id, device_type, description, unpacker)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (device_type_id) DO UPDATE SET
			device_type = excluded.device_type,
			description = excluded.description,
			unpacker = excluded.unpacker`,
		dt.DeviceTypeID, dt.DeviceType, nullString(dt.Description), nullString(dt.Unpacker))
	if err != nil {
		return fmt.Errorf("failed to upsert device type %d: %w", dt.DeviceTypeID, err)
	}
	return nil
}

// GetLocation fetches a location tree node, or ErrNotFound.
func (s *Store) GetLocation(ctx context.Context, id uuid.UUID) (*models.Location, error) {
	ctx, cancel := queryContext(ctx)
	defer cancel()

	var (
		loc models.Location
		typ string
	)

	err := s.conn.QueryRowContext(ctx, `
		SELECT location_id, name, type, parent_id
		FROM locations WHERE location_id = ?`, id,
	).Scan(&loc.LocationID, &loc.Name, &typ, &loc.ParentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get location %s: %w", id, err)
	}

	loc.Type = models.LocationType(typ)
	return &loc, nil
}

// UpsertLocation writes a location tree node.
func (s *Store) UpsertLocation(ctx context.Context, loc *models.Location) error {
	ctx, cancel := queryContext(ctx)
	defer cancel()

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO locations (location_id, name, type, parent_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (location_id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			parent_id = excluded.parent_id`,
		loc.LocationID, loc.Name, string(loc.Type), loc.ParentID)
	if err != nil {
		return fmt.Errorf("failed to upsert location %s: %w", loc.LocationID, err)
	}
	return nil
}

// UpsertGatewaySeen registers a gateway sighting from uplink metadata,
// refreshing last_seen_at and flipping it back online if the offline sweep
// had aged it out.
func (s *Store) UpsertGatewaySeen(ctx context.Context, gatewayEUI string, seenAt time.Time) error {
	if gatewayEUI == "" {
		return nil
	}
	ctx, cancel := queryContext(ctx)
	defer cancel()

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO gateways (gw_eui, last_seen_at, status)
		VALUES (?, ?, 'online')
		ON CONFLICT (gw_eui) DO UPDATE SET
			last_seen_at = excluded.last_seen_at,
			status = 'online'`,
		gatewayEUI, seenAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert gateway %s: %w", gatewayEUI, err)
	}
	return nil
}

// MarkStaleGatewaysOffline flips gateways not seen within the cutoff to
// offline and returns how many changed.
func (s *Store) MarkStaleGatewaysOffline(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := queryContext(ctx)
	defer cancel()

	result, err := s.conn.ExecContext(ctx, `
		UPDATE gateways SET status = 'offline'
		WHERE status = 'online' AND (last_seen_at IS NULL OR last_seen_at < ?)`,
		cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to mark stale gateways offline: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check offline sweep result: %w", err)
	}
	return rows, nil
}

// ListGateways returns all known gateways ordered by EUI.
func (s *Store) ListGateways(ctx context.Context) ([]*models.Gateway, error) {
	ctx, cancel := queryContext(ctx)
	defer cancel()

	rows, err := s.conn.QueryContext(ctx, `
		SELECT gw_eui, gateway_name, last_seen_at, status
		FROM gateways ORDER BY gw_eui`)
	if err != nil {
		return nil, fmt.Errorf("failed to list gateways: %w", err)
	}
	defer closeRows(rows)

	var gateways []*models.Gateway
	for rows.Next() {
		var (
			gw   models.Gateway
			name sql.NullString
		)
		if err := rows.Scan(&gw.GatewayEUI, &name, &gw.LastSeenAt, &gw.Status); err != nil {
			return nil, fmt.Errorf("failed to scan gateway: %w", err)
		}
		gw.GatewayName = name.String
		gateways = append(gateways, &gw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate gateways: %w", err)
	}
	return gateways, nil
}
