// Package postgres provides the durable audit stores backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"chronicle/internal/audit"
	txcontext "chronicle/pkg/platform/tx"
)

// LogStore implements audit.LogStore over the audit_log table.
type LogStore struct {
	db *sql.DB
}

func NewLogStore(db *sql.DB) *LogStore {
	return &LogStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *LogStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Insert appends log rows within the caller's transaction when one is
// carried on the context.
func (s *LogStore) Insert(ctx context.Context, logs []audit.Log) error {
	query := `
		INSERT INTO audit_log (
			tx_id, related_id, related_model, event_type,
			previous_state, current_state, author, created_on
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	execer := s.execer(ctx)
	for _, l := range logs {
		var previous any
		if l.PreviousState != nil {
			previous = []byte(l.PreviousState)
		}
		_, err := execer.ExecContext(ctx, query,
			l.TxID,
			l.RelatedID,
			l.RelatedModel,
			l.EventType,
			previous,
			[]byte(l.CurrentState),
			l.Author,
			l.CreatedOn,
		)
		if err != nil {
			return fmt.Errorf("insert audit log: %w", err)
		}
	}
	return nil
}

// CandidateTxIDs returns transaction ids that still have pending rows,
// oldest first.
func (s *LogStore) CandidateTxIDs(ctx context.Context, maxRetry, limit int) ([]string, error) {
	query := `
		SELECT tx_id
		FROM audit_log
		WHERE NOT processed AND retry_count < $1
		GROUP BY tx_id
		ORDER BY MIN(created_on)
		LIMIT $2
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, maxRetry, limit)
	if err != nil {
		return nil, fmt.Errorf("query candidate tx ids: %w", err)
	}
	defer rows.Close()

	var txIDs []string
	for rows.Next() {
		var txID string
		if err := rows.Scan(&txID); err != nil {
			return nil, fmt.Errorf("scan tx id: %w", err)
		}
		txIDs = append(txIDs, txID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tx ids: %w", err)
	}
	return txIDs, nil
}

// FetchGroups returns pending groups for a transaction ordered by earliest
// creation. Rows are locked with FOR UPDATE NOWAIT so a concurrent sweep
// fails fast instead of queueing behind this one.
func (s *LogStore) FetchGroups(ctx context.Context, txID string, maxRetry, limit, offset int) ([]audit.Group, error) {
	query := `
		WITH locked_rows AS (
			SELECT id, tx_id, related_model, related_id, event_type, created_on
			FROM audit_log
			WHERE NOT processed
			  AND retry_count < $1
			  AND ($2 = '' OR tx_id = $2)
			FOR UPDATE NOWAIT
		)
		SELECT tx_id, related_model, related_id, event_type, MIN(id), MAX(id)
		FROM locked_rows
		GROUP BY tx_id, related_model, related_id, event_type
		ORDER BY MIN(created_on)
		LIMIT $3 OFFSET $4
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, maxRetry, txID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query audit groups: %w", err)
	}
	defer rows.Close()

	var groups []audit.Group
	for rows.Next() {
		var g audit.Group
		err := rows.Scan(
			&g.Key.TxID,
			&g.Key.RelatedModel,
			&g.Key.RelatedID,
			&g.Key.EventType,
			&g.FirstLogID,
			&g.LastLogID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit group: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit groups: %w", err)
	}
	return groups, nil
}

// FetchGroupLogs returns the pending rows of one group in insertion order.
func (s *LogStore) FetchGroupLogs(ctx context.Context, key audit.GroupKey) ([]audit.Log, error) {
	query := `
		SELECT id, tx_id, related_id, related_model, event_type,
		       previous_state, current_state, author, created_on,
		       processed, processed_on, retry_count, error_message
		FROM audit_log
		WHERE NOT processed
		  AND tx_id = $1 AND related_model = $2 AND related_id = $3 AND event_type = $4
		ORDER BY id
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query,
		key.TxID, key.RelatedModel, key.RelatedID, key.EventType)
	if err != nil {
		return nil, fmt.Errorf("query group logs: %w", err)
	}
	defer rows.Close()

	var logs []audit.Log
	for rows.Next() {
		var (
			l           audit.Log
			previous    []byte
			processedOn sql.NullTime
		)
		err := rows.Scan(
			&l.ID,
			&l.TxID,
			&l.RelatedID,
			&l.RelatedModel,
			&l.EventType,
			&previous,
			&l.CurrentState,
			&l.Author,
			&l.CreatedOn,
			&l.Processed,
			&processedOn,
			&l.RetryCount,
			&l.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		if previous != nil {
			l.PreviousState = previous
		}
		if processedOn.Valid {
			t := processedOn.Time
			l.ProcessedOn = &t
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit logs: %w", err)
	}
	return logs, nil
}

// MarkProcessed marks every pending row of the group as done.
func (s *LogStore) MarkProcessed(ctx context.Context, key audit.GroupKey, at time.Time) error {
	query := `
		UPDATE audit_log
		SET processed = TRUE, processed_on = $5
		WHERE NOT processed
		  AND tx_id = $1 AND related_model = $2 AND related_id = $3 AND event_type = $4
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		key.TxID, key.RelatedModel, key.RelatedID, key.EventType, at)
	if err != nil {
		return fmt.Errorf("mark group processed: %w", err)
	}
	return nil
}

// MarkFailed records a failed attempt on every pending row of the group.
func (s *LogStore) MarkFailed(ctx context.Context, key audit.GroupKey, retryCount int, processed bool, errMessage string) error {
	query := `
		UPDATE audit_log
		SET retry_count = $5, processed = $6, error_message = $7
		WHERE NOT processed
		  AND tx_id = $1 AND related_model = $2 AND related_id = $3 AND event_type = $4
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		key.TxID, key.RelatedModel, key.RelatedID, key.EventType,
		retryCount, processed, errMessage)
	if err != nil {
		return fmt.Errorf("mark group failed: %w", err)
	}
	return nil
}

// NotificationStore implements audit.NotificationStore over the
// notification table.
type NotificationStore struct {
	db *sql.DB
}

func NewNotificationStore(db *sql.DB) *NotificationStore {
	return &NotificationStore{db: db}
}

func (s *NotificationStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *NotificationStore) Save(ctx context.Context, n *audit.Notification) error {
	query := `
		INSERT INTO notification (
			id, subject, body, author, related_id, related_model,
			related_name, type, received_on
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		n.ID,
		n.Subject,
		n.Body,
		n.Author,
		n.RelatedID,
		n.RelatedModel,
		n.RelatedName,
		n.Type,
		n.ReceivedOn,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// FollowerStore implements audit.FollowerStore over the follower table.
// Saving an existing follower is a no-op.
type FollowerStore struct {
	db *sql.DB
}

func NewFollowerStore(db *sql.DB) *FollowerStore {
	return &FollowerStore{db: db}
}

func (s *FollowerStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *FollowerStore) Save(ctx context.Context, f *audit.Follower) error {
	query := `
		INSERT INTO follower (user_id, related_id, related_model, archived)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, related_model, related_id) DO UPDATE SET archived = EXCLUDED.archived
	`
	_, err := s.execer(ctx).ExecContext(ctx, query, f.User, f.RelatedID, f.RelatedModel, f.Archived)
	if err != nil {
		return fmt.Errorf("insert follower: %w", err)
	}
	return nil
}
