package db

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations holds all schema migration SQL statements in order.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS deployments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		deployment_id TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL DEFAULT '',
		task TEXT NOT NULL,
		round INTEGER NOT NULL DEFAULT 1,
		nonce TEXT NOT NULL DEFAULT '',
		brief TEXT NOT NULL DEFAULT '',
		evaluation_url TEXT NOT NULL DEFAULT '',
		repo_name TEXT NOT NULL,
		repo_url TEXT NOT NULL DEFAULT '',
		pages_url TEXT NOT NULL DEFAULT '',
		commit_sha TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'running', 'success', 'failed')),
		error_text TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_deployments_repo_name ON deployments(repo_name)`,
	`CREATE TABLE IF NOT EXISTS evaluations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		payload TEXT NOT NULL DEFAULT '{}',
		received_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		deployment_id TEXT NOT NULL,
		url TEXT NOT NULL,
		payload TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'delivered', 'failed')),
		last_error TEXT NOT NULL DEFAULT '',
		next_attempt_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (deployment_id) REFERENCES deployments(deployment_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_due ON notifications(status, next_attempt_at)`,
}

// RunMigrations executes all pending schema migrations.
func RunMigrations(ctx context.Context, sqlDB *sql.DB) error {
	// Ensure schema_migrations table exists (migration 0)
	if _, err := sqlDB.ExecContext(ctx, migrations[0]); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	for i := 1; i < len(migrations); i++ {
		version := i
		var count int
		err := sqlDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count)
		if err != nil {
			return fmt.Errorf("checking migration version %d: %w", version, err)
		}
		if count > 0 {
			continue
		}

		if _, err := sqlDB.ExecContext(ctx, migrations[i]); err != nil {
			return fmt.Errorf("executing migration %d: %w", version, err)
		}

		if _, err := sqlDB.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
	}

	return nil
}
