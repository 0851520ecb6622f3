// Package storage writes debug artifacts to the local filesystem
package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// LocalStorage saves files under a base directory
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage instance
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// Save writes data under filename and returns the full path
func (l *LocalStorage) Save(filename string, data []byte) (string, error) {
	if filename != filepath.Base(filename) {
		return "", fmt.Errorf("invalid filename %q", filename)
	}
	path := filepath.Join(l.basePath, filename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return path, nil
}

// Get reads back a saved file
func (l *LocalStorage) Get(filename string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(l.basePath, filename))
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}
