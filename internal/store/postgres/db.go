// Package postgres provides PostgreSQL-based implementations of the store interfaces.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"herald-go/internal/config"
)

// DB wraps a PostgreSQL connection pool.
type DB struct {
	pool *pgxpool.Pool
}

// NewDB creates a new PostgreSQL connection pool.
func NewDB(ctx context.Context, cfg *config.PostgresConfig) (*DB, error) {
	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
		cfg.SSLMode,
		cfg.MaxOpenConns,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxOpenConns
	poolConfig.MinConns = cfg.MaxIdleConns
	poolConfig.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Pool returns the underlying connection pool.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Close closes the connection pool.
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// RunMigrations creates the required database tables.
func (db *DB) RunMigrations(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS contacts (
			id VARCHAR(36) PRIMARY KEY,
			tenant_id VARCHAR(64) NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			email TEXT,
			phone TEXT,
			instagram_id TEXT,
			tags TEXT[] NOT NULL DEFAULT '{}',
			lifecycle_stage TEXT,
			source TEXT,
			custom_fields JSONB,
			ecommerce_data JSONB,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL,
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
			last_contacted_at TIMESTAMP WITH TIME ZONE
		);

		CREATE INDEX IF NOT EXISTS idx_contacts_tenant ON contacts(tenant_id, created_at, id);
		CREATE INDEX IF NOT EXISTS idx_contacts_tags ON contacts USING GIN (tags);

		CREATE TABLE IF NOT EXISTS segments (
			id VARCHAR(36) PRIMARY KEY,
			tenant_id VARCHAR(64) NOT NULL,
			name VARCHAR(255) NOT NULL,
			description TEXT,
			type VARCHAR(20) NOT NULL,
			rules JSONB NOT NULL,
			contact_ids TEXT[] NOT NULL DEFAULT '{}',
			contact_count INTEGER NOT NULL DEFAULT 0,
			last_calculated_at TIMESTAMP WITH TIME ZONE,
			is_system BOOLEAN NOT NULL DEFAULT FALSE,
			version INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL,
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_segments_tenant ON segments(tenant_id);

		CREATE TABLE IF NOT EXISTS campaigns (
			id VARCHAR(36) PRIMARY KEY,
			tenant_id VARCHAR(64) NOT NULL,
			name VARCHAR(255) NOT NULL,
			description TEXT,
			channel VARCHAR(20) NOT NULL,
			status VARCHAR(20) NOT NULL,
			content JSONB NOT NULL,
			targeting JSONB NOT NULL,
			throttle JSONB NOT NULL,
			is_ab_test BOOLEAN NOT NULL DEFAULT FALSE,
			variants JSONB NOT NULL DEFAULT '[]',
			stats JSONB NOT NULL,
			scheduled_at TIMESTAMP WITH TIME ZONE,
			started_at TIMESTAMP WITH TIME ZONE,
			completed_at TIMESTAMP WITH TIME ZONE,
			version INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL,
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_campaigns_tenant ON campaigns(tenant_id);
		CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns(status);

		CREATE TABLE IF NOT EXISTS campaign_executions (
			id VARCHAR(36) PRIMARY KEY,
			tenant_id VARCHAR(64) NOT NULL,
			campaign_id VARCHAR(36) NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
			contact_id VARCHAR(36) NOT NULL,
			variant_id VARCHAR(36),
			channel VARCHAR(20) NOT NULL,
			status VARCHAR(20) NOT NULL,
			external_message_id VARCHAR(255),
			error_message TEXT,
			queued_at TIMESTAMP WITH TIME ZONE,
			sent_at TIMESTAMP WITH TIME ZONE,
			delivered_at TIMESTAMP WITH TIME ZONE,
			opened_at TIMESTAMP WITH TIME ZONE,
			clicked_at TIMESTAMP WITH TIME ZONE,
			replied_at TIMESTAMP WITH TIME ZONE,
			failed_at TIMESTAMP WITH TIME ZONE,
			converted_at TIMESTAMP WITH TIME ZONE,
			conversion_value NUMERIC(18, 4),
			created_at TIMESTAMP WITH TIME ZONE NOT NULL,
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
			UNIQUE (campaign_id, contact_id)
		);

		CREATE INDEX IF NOT EXISTS idx_executions_campaign_status ON campaign_executions(campaign_id, status);
		CREATE INDEX IF NOT EXISTS idx_executions_external ON campaign_executions(tenant_id, external_message_id);
	`

	_, err := db.pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// nullableString returns nil if the string is empty, otherwise returns a pointer to it.
func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// derefString returns the pointed-to string or "".
func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// jsonValue marshals v for a JSONB column.
func jsonValue(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal json column: %w", err)
	}
	return data, nil
}
