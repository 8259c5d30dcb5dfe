// Package storage archives profile documents on the filesystem or in S3-compatible object storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/docutag/profiler/slug"
)

// ErrInvalidKey is returned for keys that escape the archive root
var ErrInvalidKey = errors.New("invalid archive key")

// Archive stores exported profile documents.
// Keys are slash-separated and relative to the archive root.
type Archive interface {
	SaveProfile(ctx context.Context, slug string, data []byte) (string, error)
	ReadProfile(ctx context.Context, key string) ([]byte, error)
	DeleteProfile(ctx context.Context, key string) error
}

// Config contains storage configuration
type Config struct {
	BasePath string `mapstructure:"base_path"` // Base directory for all stored files
}

// DefaultConfig returns default storage configuration
func DefaultConfig() Config {
	return Config{
		BasePath: "./storage",
	}
}

// Storage handles filesystem storage operations
type Storage struct {
	config Config
	now    func() time.Time
}

// New creates a new Storage instance
func New(config Config) (*Storage, error) {
	if config.BasePath == "" {
		config.BasePath = DefaultConfig().BasePath
	}

	if err := os.MkdirAll(config.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base storage directory: %w", err)
	}

	return &Storage{
		config: config,
		now:    time.Now,
	}, nil
}

// profileKey returns profiles/YYYY/MM/slug.json
func profileKey(now time.Time, slug string) string {
	return path.Join("profiles", fmt.Sprintf("%04d", now.Year()), fmt.Sprintf("%02d", int(now.Month())), slug+".json")
}

// checkSlug accepts a single key segment only
func checkSlug(s string) error {
	if s == "" {
		return fmt.Errorf("slug is required")
	}
	if s == "." || s == ".." || strings.ContainsAny(s, `/\`) {
		return fmt.Errorf("%w: slug %q", ErrInvalidKey, s)
	}
	return nil
}

// SaveProfile writes a profile document and returns its key.
// A numeric suffix is added when the slug is already taken this month.
func (s *Storage) SaveProfile(_ context.Context, name string, data []byte) (string, error) {
	if err := checkSlug(name); err != nil {
		return "", err
	}

	now := s.now()
	key := profileKey(now, name)
	for counter := 1; fileExists(s.GetFullPath(key)); counter++ {
		key = profileKey(now, slug.MakeUnique(name, counter))
	}
	if !validKey(key) {
		return "", ErrInvalidKey
	}

	filePath := s.GetFullPath(key)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return "", fmt.Errorf("failed to create profile directory: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write profile file: %w", err)
	}

	return key, nil
}

// ReadProfile reads a profile document
func (s *Storage) ReadProfile(_ context.Context, key string) ([]byte, error) {
	if !validKey(key) {
		return nil, ErrInvalidKey
	}

	data, err := os.ReadFile(s.GetFullPath(key))
	if err != nil {
		return nil, fmt.Errorf("failed to read profile file: %w", err)
	}

	return data, nil
}

// DeleteProfile deletes a profile document. Missing files are not an error.
func (s *Storage) DeleteProfile(_ context.Context, key string) error {
	if !validKey(key) {
		return ErrInvalidKey
	}

	if err := os.Remove(s.GetFullPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete profile file: %w", err)
	}

	return nil
}

// GetFullPath returns the full filesystem path for a key
func (s *Storage) GetFullPath(key string) string {
	return filepath.Join(s.config.BasePath, filepath.FromSlash(key))
}

func validKey(key string) bool {
	if key == "" || path.IsAbs(key) {
		return false
	}
	clean := path.Clean(key)
	return clean != ".." && !strings.HasPrefix(clean, "../")
}

// fileExists checks if a file exists
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}
