package audit

import (
	"context"
	"log/slog"
	"sync"

	"chronicle/internal/entity"
)

// TxHandle is the persistence layer's handle on the currently active
// transaction. Completion callbacks are scoped to that transaction.
type TxHandle interface {
	// RegisterBeforeCommit runs fn at the pre-commit point, after the primary
	// entity writes are staged.
	RegisterBeforeCommit(fn func(ctx context.Context))
	// RegisterAfterCommit runs fn once the transaction completed, with
	// success reporting whether it committed.
	RegisterAfterCommit(fn func(success bool))
}

// UserFunc resolves the current user for attribution of captured changes.
type UserFunc func() string

// Hook receives raw pre-insert/pre-update/pre-delete notifications from the
// persistence layer and routes them to the tracker bound to the current
// transaction. Trackers are created lazily and removed on transaction
// completion regardless of outcome, so no state leaks across transactions.
type Hook struct {
	deps   TrackerDeps
	user   UserFunc
	logger *slog.Logger

	mu       sync.Mutex
	trackers map[TxHandle]*Tracker
}

// NewHook builds the capture hook.
func NewHook(deps TrackerDeps, user UserFunc, logger *slog.Logger) *Hook {
	return &Hook{
		deps:     deps,
		user:     user,
		logger:   logger,
		trackers: make(map[TxHandle]*Tracker),
	}
}

// OnBeforeInsert captures a creation. newState carries the field values in
// the order of names. ctx must be the transaction-scoped context of the
// persistence layer: an interim flush writes durable rows through it, so it
// has to carry the producing transaction.
func (h *Hook) OnBeforeInsert(ctx context.Context, tx TxHandle, e entity.Entity, names []string, newState []any) {
	if tx == nil || e == nil {
		return
	}
	t := h.trackerFor(tx)
	t.Track(ctx, e, names, newState, nil)
}

// OnBeforeUpdate captures an update with both value arrays.
func (h *Hook) OnBeforeUpdate(ctx context.Context, tx TxHandle, e entity.Entity, names []string, newState, oldState []any) {
	if tx == nil || e == nil {
		return
	}
	t := h.trackerFor(tx)
	if oldState == nil {
		oldState = make([]any, len(names))
	}
	t.Track(ctx, e, names, newState, oldState)
	t.Updated(e)
}

// OnBeforeDelete marks the entity deleted; no field snapshot is taken.
func (h *Hook) OnBeforeDelete(ctx context.Context, tx TxHandle, e entity.Entity) {
	if tx == nil || e == nil {
		return
	}
	h.trackerFor(tx).Deleted(ctx, e)
}

// TrackerOf exposes the tracker of a transaction, creating it if needed.
// Used by callers that need the transaction correlation id.
func (h *Hook) TrackerOf(tx TxHandle) *Tracker {
	return h.trackerFor(tx)
}

func (h *Hook) trackerFor(tx TxHandle) *Tracker {
	h.mu.Lock()
	defer h.mu.Unlock()

	if t, ok := h.trackers[tx]; ok {
		return t
	}

	t := NewTracker(h.deps, h.user())
	h.trackers[tx] = t

	tx.RegisterBeforeCommit(func(ctx context.Context) {
		// audit failures must never abort the user's transaction
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("audit flush panicked", "txId", t.TxID(), "panic", r)
			}
		}()
		t.BeforeCompletion(ctx)
	})
	tx.RegisterAfterCommit(func(success bool) {
		h.mu.Lock()
		delete(h.trackers, tx)
		h.mu.Unlock()
		t.AfterCompletion(success)
	})

	return t
}

// ActiveTrackers reports how many transactions currently hold a tracker.
func (h *Hook) ActiveTrackers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.trackers)
}
