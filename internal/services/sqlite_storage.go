package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"proyektor/internal/state"
)

// SQLiteStorage keeps local-storage items in the local_storage table
type SQLiteStorage struct {
	database *sql.DB
}

// NewSQLiteStorage creates a storage on an initialized database
func NewSQLiteStorage(database *sql.DB) *SQLiteStorage {
	return &SQLiteStorage{
		database: database,
	}
}

func (s *SQLiteStorage) GetItem(ctx context.Context, key string) ([]byte, error) {
	query := `SELECT value FROM local_storage WHERE key = ?`

	var value []byte
	err := s.database.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, state.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query item %s: %w", key, err)
	}

	return value, nil
}

func (s *SQLiteStorage) SetItem(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}

	query := `INSERT INTO local_storage (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

	if _, err := s.database.ExecContext(ctx, query, key, value, time.Now()); err != nil {
		return fmt.Errorf("failed to store item %s: %w", key, err)
	}
	return nil
}

// RemoveItem deletes a key. Removing a missing key is not an error.
func (s *SQLiteStorage) RemoveItem(ctx context.Context, key string) error {
	if _, err := s.database.ExecContext(ctx, `DELETE FROM local_storage WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete item %s: %w", key, err)
	}
	return nil
}
