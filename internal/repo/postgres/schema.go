package postgres

import (
	"context"
	"fmt"
)

// Migrate applies the schema idempotently at startup.
func Migrate(ctx context.Context, db DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			job_id UUID PRIMARY KEY,
			user_id TEXT NOT NULL,
			user_email TEXT,
			job_name TEXT NOT NULL,
			application TEXT NOT NULL,
			version TEXT NOT NULL,
			entrypoint TEXT NOT NULL,
			attributes JSONB NOT NULL,
			hardware JSONB NOT NULL DEFAULT '{}',
			environment TEXT NOT NULL DEFAULT '',
			priority INT NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			paths_out JSONB NOT NULL DEFAULT '{}',
			runtime_details TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ,
			finished_at TIMESTAMPTZ,
			CONSTRAINT jobs_user_name_unique UNIQUE (user_id, job_name)
		)`,
		`CREATE INDEX IF NOT EXISTS jobs_user_created_idx ON jobs (user_id, created_at, job_id)`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
