package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations returns the full schema, versioned
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users table and lookup indexes",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id VARCHAR(36) PRIMARY KEY,
					username VARCHAR(255) NOT NULL,
					email VARCHAR(255) NOT NULL,
					password_hash TEXT NOT NULL,
					role_id VARCHAR(36),
					api_key VARCHAR(255) NOT NULL,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at BIGINT NOT NULL,
					updated_at BIGINT NOT NULL
				);

				CREATE TABLE IF NOT EXISTS users_by_username (
					username VARCHAR(255) PRIMARY KEY,
					user_id VARCHAR(36) NOT NULL,
					password_hash TEXT NOT NULL,
					role_id VARCHAR(36),
					is_active BOOLEAN NOT NULL
				);

				CREATE TABLE IF NOT EXISTS users_by_email (
					email VARCHAR(255) PRIMARY KEY,
					user_id VARCHAR(36) NOT NULL
				);

				CREATE TABLE IF NOT EXISTS users_by_api_key (
					api_key VARCHAR(255) PRIMARY KEY,
					user_id VARCHAR(36) NOT NULL,
					is_active BOOLEAN NOT NULL
				);
			`,
		},
		{
			Version:     2,
			Description: "Create roles table and by-name index",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id VARCHAR(36) PRIMARY KEY,
					role_name VARCHAR(255) NOT NULL,
					permissions JSONB NOT NULL DEFAULT '[]',
					description TEXT NOT NULL DEFAULT '',
					created_at BIGINT NOT NULL
				);

				CREATE TABLE IF NOT EXISTS roles_by_name (
					role_name VARCHAR(255) PRIMARY KEY,
					role_id VARCHAR(36) NOT NULL,
					permissions JSONB NOT NULL DEFAULT '[]'
				);
			`,
		},
	}
}

// Migrate applies any pending migrations. It is safe to call on every
// startup; applied versions are tracked in schema_migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	for _, m := range Migrations() {
		var exists bool
		err := db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, m.Version,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check migration %d: %w", m.Version, err)
		}
		if exists {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to apply migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, description) VALUES ($1, $2)`,
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
