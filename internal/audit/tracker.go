package audit

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"chronicle/internal/entity"
	"chronicle/internal/track"
)

// TrackerDeps bundles the collaborators shared by every per-transaction
// tracker.
type TrackerDeps struct {
	Rules       *track.Rules
	Types       *entity.Registry
	Logs        LogStore
	Generator   *Generator
	Queue       Queue
	Coordinator *Coordinator
	Listener    CompletionListener
	Attachments AttachmentService
	Clock       clock.Clock
	Logger      *slog.Logger
	// FlushThreshold bounds the in-memory snapshot store; reaching it writes
	// interim log rows. Zero disables interim flushes.
	FlushThreshold int
	// Direct switches to synchronous notification generation at pre-commit
	// instead of durable rows plus async dispatch.
	Direct bool
}

type stateKey struct {
	model string
	id    int64
	event EventType
}

// Tracker accumulates and consolidates entity snapshots for one in-flight
// transaction. It lives from the first tracked mutation until the
// transaction completes and is discarded unconditionally afterwards.
type Tracker struct {
	deps TrackerDeps
	txID string
	user string

	store map[stateKey]*EntityState
	order []stateKey

	updated     map[stateKey]entity.Entity
	deleted     map[stateKey]entity.Entity
	deletedSeq  []stateKey
	updatedSeq  []stateKey
	logCreated  bool
	flushFailed bool
}

// NewTracker builds a tracker for one transaction, authored by user. The
// transaction id is a UUIDv7 so durable rows group in time order.
func NewTracker(deps TrackerDeps, user string) *Tracker {
	return &Tracker{
		deps:    deps,
		txID:    newTxID(),
		user:    user,
		store:   make(map[stateKey]*EntityState),
		updated: make(map[stateKey]entity.Entity),
		deleted: make(map[stateKey]entity.Entity),
	}
}

func newTxID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// TxID returns the tracker's transaction correlation id.
func (t *Tracker) TxID() string { return t.txID }

// Track records one mutation of an entity. The first observation fixes the
// before-state; later observations merge their values onto the snapshot, so
// the net effect reflects the cumulative change within the transaction.
// Mutations of untracked models are a silent no-op.
func (t *Tracker) Track(ctx context.Context, e entity.Entity, names []string, state, previousState []any) {
	t.deps.Coordinator.SignalActivity(e.ModelName())

	if t.deps.Rules.Find(e.ModelName()) == nil {
		return
	}

	typ := t.deps.Types.Find(e.ModelName())

	values := make(map[string]any, len(names))
	var oldValues map[string]any
	if previousState != nil {
		oldValues = make(map[string]any, len(names))
	}

	for i, name := range names {
		if typ != nil {
			if prop, ok := typ.Property(name); ok {
				// binary blobs are never auditable
				if prop.Kind == entity.KindBinary {
					continue
				}
			}
		}
		values[name] = compactValue(state[i], t.deps.Types)
		if oldValues != nil {
			oldValues[name] = compactValue(previousState[i], t.deps.Types)
		}
	}

	event := EventUpdate
	if oldValues == nil {
		event = EventCreate
	}

	key := stateKey{model: e.ModelName(), id: e.EntityID(), event: event}
	if existing, ok := t.store[key]; ok {
		for k, v := range values {
			existing.Values[k] = v
		}
	} else {
		t.store[key] = &EntityState{
			Entity:    e,
			Event:     event,
			Values:    values,
			OldValues: oldValues,
			Received:  t.deps.Clock.Now(),
		}
		t.order = append(t.order, key)
	}

	if t.deps.FlushThreshold > 0 && len(t.store) >= t.deps.FlushThreshold && !t.deps.Direct {
		t.flushStore(ctx)
	}
}

// Deleted marks an entity as deleted in this transaction. No field snapshot
// is required.
func (t *Tracker) Deleted(ctx context.Context, e entity.Entity) {
	t.deps.Coordinator.SignalActivity(e.ModelName())
	key := stateKey{model: e.ModelName(), id: e.EntityID()}
	if _, ok := t.deleted[key]; !ok {
		t.deleted[key] = e
		t.deletedSeq = append(t.deletedSeq, key)
	}
}

// Updated marks an entity as updated for the before-complete event fan-out.
func (t *Tracker) Updated(e entity.Entity) {
	key := stateKey{model: e.ModelName(), id: e.EntityID()}
	if _, ok := t.updated[key]; !ok {
		t.updated[key] = e
		t.updatedSeq = append(t.updatedSeq, key)
	}
}

// BeforeCompletion runs inside the pre-commit phase of the transaction that
// produced the mutations: it fires the before-complete event, flushes the
// accumulated snapshots and finally processes deletions. Failures are logged
// and must never abort the outer transaction; the hook relies on that.
func (t *Tracker) BeforeCompletion(ctx context.Context) {
	t.fireBeforeCompleteEvent(ctx)

	if t.deps.Direct {
		t.processDirect(ctx)
	} else {
		t.flushStore(ctx)
	}

	t.processDeletes(ctx)
}

// AfterCompletion discards nothing itself (the hook owns the registry) but
// dispatches the transaction for async processing after a successful commit
// that created durable rows.
func (t *Tracker) AfterCompletion(success bool) {
	if success && t.logCreated && !t.flushFailed {
		t.deps.Queue.Process(t.txID)
	}
}

func (t *Tracker) fireBeforeCompleteEvent(ctx context.Context) {
	if t.deps.Listener == nil {
		return
	}
	if len(t.updated) == 0 && len(t.deleted) == 0 {
		return
	}
	updated := make([]entity.Entity, 0, len(t.updatedSeq))
	for _, k := range t.updatedSeq {
		updated = append(updated, t.updated[k])
	}
	deleted := make([]entity.Entity, 0, len(t.deletedSeq))
	for _, k := range t.deletedSeq {
		deleted = append(deleted, t.deleted[k])
	}
	t.deps.Listener.BeforeTransactionComplete(ctx, updated, deleted)
}

// flushStore writes one durable log row per accumulated snapshot, joining
// the caller's transaction, then clears the in-memory store.
func (t *Tracker) flushStore(ctx context.Context) {
	if len(t.store) == 0 {
		return
	}

	t.deps.Logger.Debug("flushing audit log records", "count", len(t.store), "txId", t.txID)

	logs := make([]Log, 0, len(t.store))
	now := t.deps.Clock.Now()
	for _, key := range t.order {
		state, ok := t.store[key]
		if !ok {
			continue
		}
		row := Log{
			TxID:         t.txID,
			RelatedID:    state.Entity.EntityID(),
			RelatedModel: state.Entity.ModelName(),
			EventType:    state.Event,
			CurrentState: marshalState(state.Values, t.deps.Logger),
			Author:       t.user,
			CreatedOn:    now,
		}
		if state.OldValues != nil {
			row.PreviousState = marshalState(state.OldValues, t.deps.Logger)
		}
		logs = append(logs, row)
	}

	t.store = make(map[stateKey]*EntityState)
	t.order = nil

	if err := t.deps.Logs.Insert(ctx, logs); err != nil {
		// audit is best-effort relative to the primary transaction
		t.flushFailed = true
		t.deps.Logger.Error("failed to persist audit log records", "txId", t.txID, "error", err)
		return
	}
	t.logCreated = true
}

// processDirect evaluates rules synchronously at pre-commit, writing
// notifications in the caller's transaction.
func (t *Tracker) processDirect(ctx context.Context) {
	for _, key := range t.order {
		state, ok := t.store[key]
		if !ok {
			continue
		}
		if err := t.deps.Generator.Process(ctx, state, t.user); err != nil {
			t.deps.Logger.Error("notification generation failed",
				"model", key.model, "id", key.id, "error", err)
		}
	}
	t.store = make(map[stateKey]*EntityState)
	t.order = nil
}

func (t *Tracker) processDeletes(ctx context.Context) {
	if t.deps.Attachments == nil {
		return
	}
	for _, key := range t.deletedSeq {
		e := t.deleted[key]
		t.deps.Logger.Debug("deleting attachments", "model", e.ModelName(), "id", e.EntityID())
		if err := t.deps.Attachments.DeleteAttachments(ctx, e.ModelName(), e.EntityID()); err != nil {
			t.deps.Logger.Error("attachment cleanup failed",
				"model", e.ModelName(), "id", e.EntityID(), "error", err)
		}
	}
}
