// SenseMy IoT - LoRaWAN Uplink Ingestion and Enrichment
// Copyright 2026 C. Paumelle (cpaumelle)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cpaumelle/sensemy-iot-platform

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/cpaumelle/sensemy-iot-platform/internal/models"
)

// AppendEnrichmentLog records one enrichment step outcome for an uplink.
// The trail is append-only; entries are never updated or deleted.
func (s *Store) AppendEnrichmentLog(ctx context.Context, entry *models.EnrichmentLogEntry) error {
	if !entry.Step.Valid() {
		return fmt.Errorf("invalid enrichment step %q", entry.Step)
	}
	if !entry.Status.Valid() {
		return fmt.Errorf("invalid enrichment status %q", entry.Status)
	}

	ctx, cancel := queryContext(ctx)
	defer cancel()

	if entry.LogID == uuid.Nil {
		entry.LogID = uuid.New()
	}

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO enrichment_logs (log_id, uplink_uuid, step, status, detail)
		VALUES (?, ?, ?, ?, ?)`,
		entry.LogID, entry.UplinkUUID, string(entry.Step), string(entry.Status),
		nullString(entry.Detail))
	if err != nil {
		return fmt.Errorf("failed to append enrichment log: %w", err)
	}
	return nil
}

// GetEnrichmentLogs returns the audit trail for an uplink in insertion order.
func (s *Store) GetEnrichmentLogs(ctx context.Context, uplinkUUID uuid.UUID) ([]*models.EnrichmentLogEntry, error) {
	ctx, cancel := queryContext(ctx)
	defer cancel()

	rows, err := s.conn.QueryContext(ctx, `
		SELECT log_id, uplink_uuid, step, status, detail, created_at
		FROM enrichment_logs
		WHERE uplink_uuid = ?
		ORDER BY created_at ASC, log_id ASC`, uplinkUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to get enrichment logs: %w", err)
	}
	defer closeRows(rows)

	var entries []*models.EnrichmentLogEntry
	for rows.Next() {
		var (
			entry  models.EnrichmentLogEntry
			step   string
			status string
			detail sql.NullString
		)
		if err := rows.Scan(&entry.LogID, &entry.UplinkUUID, &step, &status,
			&detail, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan enrichment log: %w", err)
		}
		entry.Step = models.EnrichmentStep(step)
		entry.Status = models.EnrichmentStatus(status)
		entry.Detail = detail.String
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate enrichment logs: %w", err)
	}
	return entries, nil
}
