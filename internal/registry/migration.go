package registry

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id UUID PRIMARY KEY,
		patient_id TEXT NOT NULL,
		doctor_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'created',
		created_at TIMESTAMPTZ NOT NULL,
		started_at TIMESTAMPTZ,
		ended_at TIMESTAMPTZ,
		finalized_at TIMESTAMPTZ,
		total_results INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS transcript_segments (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		segment_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		provider TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		spoken_at TIMESTAMPTZ NOT NULL,
		words JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE(session_id, segment_index)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transcript_segments_session
		ON transcript_segments (session_id, segment_index)`,
}

func runMigration(ctx context.Context, pool *pgxpool.Pool) error {
	for _, s := range migrationStatements {
		stmt := strings.TrimSpace(s)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
