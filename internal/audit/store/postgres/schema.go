package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS audit_log (
		id             BIGSERIAL PRIMARY KEY,
		tx_id          TEXT NOT NULL,
		related_id     BIGINT NOT NULL,
		related_model  TEXT NOT NULL,
		event_type     TEXT NOT NULL,
		previous_state JSONB,
		current_state  JSONB,
		author         TEXT NOT NULL DEFAULT '',
		created_on     TIMESTAMPTZ NOT NULL,
		processed      BOOLEAN NOT NULL DEFAULT FALSE,
		processed_on   TIMESTAMPTZ,
		retry_count    INT NOT NULL DEFAULT 0,
		error_message  TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS audit_log_pending_idx
		ON audit_log (tx_id, related_model, related_id, event_type)
		WHERE NOT processed`,
	`CREATE TABLE IF NOT EXISTS notification (
		id            TEXT PRIMARY KEY,
		subject       TEXT NOT NULL,
		body          TEXT NOT NULL,
		author        TEXT NOT NULL DEFAULT '',
		related_id    BIGINT NOT NULL,
		related_model TEXT NOT NULL,
		related_name  TEXT NOT NULL DEFAULT '',
		type          TEXT NOT NULL,
		received_on   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS follower (
		user_id       TEXT NOT NULL,
		related_id    BIGINT NOT NULL,
		related_model TEXT NOT NULL,
		archived      BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (user_id, related_model, related_id)
	)`,
}

// Migrate creates the audit tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
