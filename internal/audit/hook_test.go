package audit_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chronicle/internal/audit"
	"chronicle/internal/audit/store/memory"
	"chronicle/internal/entity"
	"chronicle/internal/track"
)

// fakeTx is a TxHandle capturing the registered completion callbacks.
type fakeTx struct {
	beforeCommit []func(ctx context.Context)
	afterCommit  []func(success bool)
}

func (tx *fakeTx) RegisterBeforeCommit(fn func(ctx context.Context)) {
	tx.beforeCommit = append(tx.beforeCommit, fn)
}

func (tx *fakeTx) RegisterAfterCommit(fn func(success bool)) {
	tx.afterCommit = append(tx.afterCommit, fn)
}

func (tx *fakeTx) commit() {
	for _, fn := range tx.beforeCommit {
		fn(context.Background())
	}
	for _, fn := range tx.afterCommit {
		fn(true)
	}
}

func (tx *fakeTx) rollback() {
	for _, fn := range tx.afterCommit {
		fn(false)
	}
}

func hookDeps(logs audit.LogStore, queue audit.Queue) audit.TrackerDeps {
	clk := testclock.NewClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	types := entity.NewRegistry()
	types.Register(entity.NewType("sale.Order", "reference",
		entity.Property{Name: "name", Kind: entity.KindString},
	))
	rules := track.NewRules()
	rules.Register(&track.Model{
		Name:   "sale.Order",
		On:     track.EventAlways,
		Fields: []track.Field{{Name: "name"}},
	})

	return audit.TrackerDeps{
		Rules:       rules,
		Types:       types,
		Logs:        logs,
		Queue:       queue,
		Coordinator: audit.NewCoordinator(clk, 200*time.Millisecond),
		Clock:       clk,
		Logger:      logger,
	}
}

func newHookFixture() (*audit.Hook, *memory.LogStore, *dispatchRecorder) {
	logs := memory.NewLogStore()
	queue := &dispatchRecorder{}
	deps := hookDeps(logs, queue)
	hook := audit.NewHook(deps, func() string { return "admin" }, deps.Logger)
	return hook, logs, queue
}

func TestHookCommitFlow(t *testing.T) {
	hook, logs, queue := newHookFixture()
	tx := &fakeTx{}
	e := &entity.Record{Model: "sale.Order", ID: 1}

	hook.OnBeforeInsert(context.Background(), tx, e, []string{"name"}, []any{"A"})
	hook.OnBeforeUpdate(context.Background(), tx, e, []string{"name"}, []any{"B"}, []any{"A"})
	txID := hook.TrackerOf(tx).TxID()

	assert.Equal(t, 1, hook.ActiveTrackers())
	tx.commit()

	rows := logs.All()
	require.Len(t, rows, 2)
	assert.Equal(t, []string{txID}, queue.dispatched())
	assert.Equal(t, 0, hook.ActiveTrackers(), "tracker removed on completion")
}

func TestHookRollbackDiscardsTracker(t *testing.T) {
	hook, logs, queue := newHookFixture()
	tx := &fakeTx{}
	e := &entity.Record{Model: "sale.Order", ID: 1}

	hook.OnBeforeInsert(context.Background(), tx, e, []string{"name"}, []any{"A"})
	tx.rollback()

	assert.Empty(t, logs.All())
	assert.Empty(t, queue.dispatched())
	assert.Equal(t, 0, hook.ActiveTrackers())
}

func TestHookSeparatesTransactions(t *testing.T) {
	hook, _, _ := newHookFixture()
	tx1 := &fakeTx{}
	tx2 := &fakeTx{}
	e := &entity.Record{Model: "sale.Order", ID: 1}

	hook.OnBeforeInsert(context.Background(), tx1, e, []string{"name"}, []any{"A"})
	hook.OnBeforeInsert(context.Background(), tx2, e, []string{"name"}, []any{"B"})

	assert.Equal(t, 2, hook.ActiveTrackers())
	assert.NotEqual(t, hook.TrackerOf(tx1).TxID(), hook.TrackerOf(tx2).TxID())
}

// txScopeKey stands in for the transaction marker the SQL stores read from
// the context.
type txScopeKey struct{}

// ctxCapturingLogStore records the context each Insert arrives with.
type ctxCapturingLogStore struct {
	*memory.LogStore
	insertCtx []context.Context
}

func (s *ctxCapturingLogStore) Insert(ctx context.Context, logs []audit.Log) error {
	s.insertCtx = append(s.insertCtx, ctx)
	return s.LogStore.Insert(ctx, logs)
}

func TestHookInterimFlushKeepsCallerContext(t *testing.T) {
	logs := &ctxCapturingLogStore{LogStore: memory.NewLogStore()}
	deps := hookDeps(logs, &dispatchRecorder{})
	deps.FlushThreshold = 1
	hook := audit.NewHook(deps, func() string { return "admin" }, deps.Logger)

	tx := &fakeTx{}
	ctx := context.WithValue(context.Background(), txScopeKey{}, "scope-1")
	e := &entity.Record{Model: "sale.Order", ID: 1}
	hook.OnBeforeUpdate(ctx, tx, e, []string{"name"}, []any{"B"}, []any{"A"})

	require.Len(t, logs.insertCtx, 1, "threshold of one flushes immediately")
	assert.Equal(t, "scope-1", logs.insertCtx[0].Value(txScopeKey{}),
		"interim rows must be written in the producing transaction's scope")
}

func TestHookIgnoresNilArguments(t *testing.T) {
	hook, logs, _ := newHookFixture()

	hook.OnBeforeInsert(context.Background(), nil, &entity.Record{Model: "sale.Order", ID: 1}, nil, nil)
	hook.OnBeforeDelete(context.Background(), &fakeTx{}, nil)

	assert.Empty(t, logs.All())
	assert.Equal(t, 0, hook.ActiveTrackers())
}
