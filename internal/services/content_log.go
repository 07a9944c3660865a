package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"proyektor/internal/logger"
	"proyektor/internal/models"
)

// ErrEntryNotFound is returned by Get for a timestamp that was never logged.
var ErrEntryNotFound = errors.New("content log entry not found")

// ContentLogService records every content item that became current
type ContentLogService struct {
	database *sql.DB
}

// NewContentLogService creates a new content log service
func NewContentLogService(database *sql.DB) *ContentLogService {
	return &ContentLogService{
		database: database,
	}
}

// Record stores a shown content item. Recording the same timestamp twice is a no-op.
func (cs *ContentLogService) Record(ctx context.Context, content models.Content) error {
	body, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("failed to marshal content: %w", err)
	}

	query := `INSERT OR IGNORE INTO content_log (timestamp, kind, summary, body, shown_at)
		VALUES (?, ?, ?, ?, ?)`

	result, err := cs.database.ExecContext(ctx, query, content.Timestamp, string(content.Kind), content.Summary(), body, time.Now())
	if err != nil {
		return fmt.Errorf("failed to insert content log entry: %w", err)
	}

	if n, _ := result.RowsAffected(); n > 0 {
		logger.Debug("content logged", "timestamp", content.Timestamp, "kind", content.Kind)
	}
	return nil
}

// Recent returns the latest entries, newest first. kind filters when non-empty.
func (cs *ContentLogService) Recent(ctx context.Context, kind models.ContentKind, limit int) ([]*models.ContentLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, timestamp, kind, summary, body, shown_at
		FROM content_log`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := cs.database.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query content log: %w", err)
	}
	defer rows.Close()

	entries := []*models.ContentLogEntry{}
	for rows.Next() {
		var entry models.ContentLogEntry
		var kindStr string
		var body []byte

		err := rows.Scan(
			&entry.ID,
			&entry.Timestamp,
			&kindStr,
			&entry.Summary,
			&body,
			&entry.ShownAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan content log entry: %w", err)
		}

		entry.Kind = models.ContentKind(kindStr)
		if err := json.Unmarshal(body, &entry.Content); err != nil {
			logger.Warn("skipping unreadable content log entry", "id", entry.ID, "error", err)
			continue
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

// Get returns the entry with the given content timestamp
func (cs *ContentLogService) Get(ctx context.Context, timestamp int64) (*models.ContentLogEntry, error) {
	query := `SELECT id, timestamp, kind, summary, body, shown_at
		FROM content_log WHERE timestamp = ?`

	var entry models.ContentLogEntry
	var kindStr string
	var body []byte

	err := cs.database.QueryRowContext(ctx, query, timestamp).Scan(
		&entry.ID,
		&entry.Timestamp,
		&kindStr,
		&entry.Summary,
		&body,
		&entry.ShownAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrEntryNotFound, timestamp)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query content log entry: %w", err)
	}

	entry.Kind = models.ContentKind(kindStr)
	if err := json.Unmarshal(body, &entry.Content); err != nil {
		return nil, fmt.Errorf("failed to decode content %d: %w", timestamp, err)
	}
	return &entry, nil
}

// Clear deletes all log entries and returns how many were removed
func (cs *ContentLogService) Clear(ctx context.Context) (int64, error) {
	result, err := cs.database.ExecContext(ctx, `DELETE FROM content_log`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear content log: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	logger.Info("content log cleared", "entries", rowsAffected)
	return rowsAffected, nil
}
