package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"chronicle/internal/audit"
	"chronicle/internal/entity"
	txcontext "chronicle/pkg/platform/tx"
)

// Resolver implements audit.EntityResolver against domain tables. Each
// tracked model is mapped to the table holding its rows; the row is read
// back as one JSON document so the resolver needs no per-model scan code.
type Resolver struct {
	db     *sql.DB
	tables map[string]string
}

// NewResolver creates a resolver. tables maps model names to table names.
func NewResolver(db *sql.DB, tables map[string]string) *Resolver {
	return &Resolver{db: db, tables: tables}
}

func (r *Resolver) queryer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return r.db
}

// Resolve loads the current row of a tracked entity. Returns
// audit.ErrNotFound when the model is unmapped or the row is gone.
func (r *Resolver) Resolve(ctx context.Context, model string, id int64) (entity.Entity, error) {
	table, ok := r.tables[model]
	if !ok {
		return nil, audit.ErrNotFound
	}

	// Table names come from static configuration, never from input.
	query := fmt.Sprintf(`SELECT row_to_json(t) FROM %q AS t WHERE id = $1`, table)

	rows, err := r.queryer(ctx).QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("query %s row: %w", table, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("query %s row: %w", table, err)
		}
		return nil, audit.ErrNotFound
	}

	var doc []byte
	if err := rows.Scan(&doc); err != nil {
		return nil, fmt.Errorf("scan %s row: %w", table, err)
	}

	var values map[string]any
	if err := json.Unmarshal(doc, &values); err != nil {
		return nil, fmt.Errorf("decode %s row: %w", table, err)
	}
	return &entity.Record{Model: model, ID: id, Values: values}, nil
}

// Runner returns an audit.Runner that executes fn inside a transaction
// carried on the context, committing on success and rolling back otherwise.
func Runner(db *sql.DB) audit.Runner {
	return func(ctx context.Context, fn func(ctx context.Context) error) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	}
}
