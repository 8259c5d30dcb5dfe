// Package db persists extracted company profiles in PostgreSQL.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/docutag/profiler/models"
)

// ErrNotFound is returned when no profile matches
var ErrNotFound = errors.New("profile not found")

// DB wraps the database connection and provides data access methods
type DB struct {
	conn *sql.DB
}

// Config contains database configuration
type Config struct {
	DSN             string        `mapstructure:"dsn"` // PostgreSQL connection string
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SkipMigrations  bool          `mapstructure:"skip_migrations"`
}

// DefaultConfig returns default pool settings
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// Open connects to PostgreSQL without running migrations
func Open(ctx context.Context, config Config) (*sql.DB, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	conn, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	defaults := DefaultConfig()
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = defaults.MaxOpenConns
	}
	if config.MaxIdleConns <= 0 {
		config.MaxIdleConns = defaults.MaxIdleConns
	}
	if config.ConnMaxLifetime <= 0 {
		config.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
	conn.SetMaxOpenConns(config.MaxOpenConns)
	conn.SetMaxIdleConns(config.MaxIdleConns)
	conn.SetConnMaxLifetime(config.ConnMaxLifetime)

	return conn, nil
}

// New creates a new database connection and applies pending migrations
func New(ctx context.Context, config Config) (*DB, error) {
	conn, err := Open(ctx, config)
	if err != nil {
		return nil, err
	}

	if !config.SkipMigrations {
		if err := Migrate(conn); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// DB returns the underlying database connection
func (db *DB) DB() *sql.DB {
	return db.conn
}

// Ping checks the connection
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// SaveProfile inserts a profile or replaces the stored profile for the same seed URL
func (db *DB) SaveProfile(ctx context.Context, profile *models.Profile) error {
	jsonData, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	query := `
		INSERT INTO profiler_profiles (id, seed_url, slug, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT(seed_url) DO UPDATE SET
			id = excluded.id,
			slug = excluded.slug,
			data = excluded.data,
			updated_at = excluded.updated_at
	`

	_, err = db.conn.ExecContext(ctx, query,
		profile.ID,
		profile.SeedURL,
		profile.Slug,
		string(jsonData),
		profile.CreatedAt,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}

	return nil
}

// GetByID retrieves a profile by ID
func (db *DB) GetByID(ctx context.Context, id string) (*models.Profile, error) {
	return db.getOne(ctx, "SELECT data FROM profiler_profiles WHERE id = $1", id)
}

// GetByURL retrieves the profile stored for a seed URL
func (db *DB) GetByURL(ctx context.Context, seedURL string) (*models.Profile, error) {
	return db.getOne(ctx, "SELECT data FROM profiler_profiles WHERE seed_url = $1", seedURL)
}

// GetBySlug retrieves the most recently updated profile with the given slug
func (db *DB) GetBySlug(ctx context.Context, slug string) (*models.Profile, error) {
	return db.getOne(ctx, "SELECT data FROM profiler_profiles WHERE slug = $1 ORDER BY updated_at DESC LIMIT 1", slug)
}

func (db *DB) getOne(ctx context.Context, query string, arg string) (*models.Profile, error) {
	var jsonData string
	err := db.conn.QueryRowContext(ctx, query, arg).Scan(&jsonData)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query profile: %w", err)
	}

	return decodeProfile(jsonData)
}

// DeleteByID deletes a profile by ID
func (db *DB) DeleteByID(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx, "DELETE FROM profiler_profiles WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// List returns stored profiles, newest first
func (db *DB) List(ctx context.Context, limit, offset int) ([]*models.Profile, error) {
	query := `
		SELECT data FROM profiler_profiles
		ORDER BY updated_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := db.conn.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	results := []*models.Profile{}
	for rows.Next() {
		var jsonData string
		if err := rows.Scan(&jsonData); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		profile, err := decodeProfile(jsonData)
		if err != nil {
			return nil, err
		}
		results = append(results, profile)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return results, nil
}

// Count returns the number of stored profiles
func (db *DB) Count(ctx context.Context) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM profiler_profiles").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count profiles: %w", err)
	}
	return count, nil
}

func decodeProfile(jsonData string) (*models.Profile, error) {
	var profile models.Profile
	if err := json.Unmarshal([]byte(jsonData), &profile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	return &profile, nil
}
