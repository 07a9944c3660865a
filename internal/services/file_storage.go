package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"proyektor/internal/logger"
	"proyektor/internal/state"
)

// FileStorage keeps local-storage items in one JSON file
type FileStorage struct {
	mu       sync.RWMutex
	filePath string
	items    map[string]string
}

// NewFileStorage creates a file storage under dataPath and loads existing items
func NewFileStorage(dataPath string) (*FileStorage, error) {
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	fs := &FileStorage{
		filePath: filepath.Join(dataPath, "local_storage.json"),
		items:    make(map[string]string),
	}

	if err := fs.load(); err != nil {
		return nil, fmt.Errorf("failed to load local storage: %w", err)
	}

	return fs, nil
}

func (fs *FileStorage) load() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := os.ReadFile(fs.filePath)
	if os.IsNotExist(err) {
		logger.Info("local storage file not found, starting empty", "path", fs.filePath)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read local storage file: %w", err)
	}

	items := make(map[string]string)
	if err := json.Unmarshal(data, &items); err != nil {
		// A corrupt file is treated like an empty one; the next write replaces it.
		logger.Warn("failed to parse local storage file, starting empty", "path", fs.filePath, "error", err)
		return nil
	}

	fs.items = items
	logger.Info("loaded local storage", "items", len(items), "path", fs.filePath)
	return nil
}

// save atomically writes the file (temp file, fsync, rename).
// Must be called with lock held
func (fs *FileStorage) save() error {
	data, err := json.MarshalIndent(fs.items, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal local storage: %w", err)
	}

	tempPath := fs.filePath + ".tmp"
	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open temp file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	file.Close()

	if err := os.Rename(tempPath, fs.filePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

func (fs *FileStorage) GetItem(_ context.Context, key string) ([]byte, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	value, ok := fs.items[key]
	if !ok {
		return nil, state.ErrNotFound
	}
	return []byte(value), nil
}

func (fs *FileStorage) SetItem(_ context.Context, key string, value []byte) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.items[key] = string(value)
	if err := fs.save(); err != nil {
		return fmt.Errorf("failed to save item %s: %w", key, err)
	}
	return nil
}

// RemoveItem deletes a key. Removing a missing key is not an error.
func (fs *FileStorage) RemoveItem(_ context.Context, key string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, ok := fs.items[key]; !ok {
		return nil
	}
	delete(fs.items, key)
	if err := fs.save(); err != nil {
		return fmt.Errorf("failed to delete item %s: %w", key, err)
	}
	return nil
}

// Path returns the backing file.
func (fs *FileStorage) Path() string {
	return fs.filePath
}
