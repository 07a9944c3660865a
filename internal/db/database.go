package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"proyektor/internal/logger"
)

var DB *sql.DB

// InitDatabase opens the SQLite database at dbPath and creates tables
func InitDatabase(dbPath string) error {
	database, err := Open(dbPath)
	if err != nil {
		return err
	}
	DB = database
	return nil
}

// Open opens a SQLite database without touching the package-level handle
func Open(dbPath string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	database, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := database.Ping(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := createTables(database); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info("database initialized", "path", dbPath)
	return database, nil
}

func createTables(database *sql.DB) error {
	createLocalStorage := `
	CREATE TABLE IF NOT EXISTS local_storage (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`

	if _, err := database.Exec(createLocalStorage); err != nil {
		return fmt.Errorf("failed to create local_storage table: %w", err)
	}

	createHistory := `
	CREATE TABLE IF NOT EXISTS content_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL UNIQUE,
		kind TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		body BLOB NOT NULL,
		shown_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`

	if _, err := database.Exec(createHistory); err != nil {
		return fmt.Errorf("failed to create content_log table: %w", err)
	}

	createIndex := `CREATE INDEX IF NOT EXISTS idx_content_log_kind ON content_log(kind);`
	if _, err := database.Exec(createIndex); err != nil {
		return fmt.Errorf("failed to create content_log index: %w", err)
	}

	return nil
}

// Close closes the database connection
func Close() error {
	if DB != nil {
		return DB.Close()
	}
	return nil
}
