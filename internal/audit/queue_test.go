package audit_test

import (
	"context"
	"encoding/json"
	"errors"
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
	"chronicle/internal/expr"
	"chronicle/internal/platform/config"
	"chronicle/internal/track"
)

type queueFixture struct {
	queue         *audit.AsyncQueue
	logs          *memory.LogStore
	notifications *memory.NotificationStore
	coordinator   *audit.Coordinator
}

func newQueueFixture(t *testing.T, logs audit.LogStore) *queueFixture {
	t.Helper()

	clk := testclock.NewClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	coordinator := audit.NewCoordinator(clk, 100*time.Millisecond)

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

	notifications := memory.NewNotificationStore()
	resolver := memory.NewResolver()
	resolver.Register(&entity.Record{Model: "sale.Order", ID: 1, Values: map[string]any{"reference": "SO-1"}})

	cfg := config.Audit{
		BatchSize:             10,
		MaxRetry:              3,
		BatchDelay:            time.Millisecond,
		BusyBackoff:           time.Millisecond,
		BusyBackoffMaxRetries: 0,
		ActivityWindow:        100 * time.Millisecond,
	}

	generator := audit.NewGenerator(
		notifications, memory.NewFollowerStore(), types, rules, expr.NewLang(), logger, nil)
	processor := audit.NewProcessor(
		logs, resolver, generator, coordinator, types, clk, nil, cfg, logger, nil)

	memLogs, _ := logs.(*memory.LogStore)
	return &queueFixture{
		queue:         audit.NewAsyncQueue(processor, coordinator, logger, nil),
		logs:          memLogs,
		notifications: notifications,
		coordinator:   coordinator,
	}
}

func insertPending(t *testing.T, logs *memory.LogStore, txID string) {
	t.Helper()
	current, err := json.Marshal(map[string]any{"name": txID})
	require.NoError(t, err)
	require.NoError(t, logs.Insert(context.Background(), []audit.Log{{
		TxID:         txID,
		RelatedModel: "sale.Order",
		RelatedID:    1,
		EventType:    audit.EventCreate,
		CurrentState: current,
		CreatedOn:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}}))
}

func TestQueueProcessesRequests(t *testing.T) {
	f := newQueueFixture(t, memory.NewLogStore())
	defer f.queue.Shutdown(time.Second)

	insertPending(t, f.logs, "tx-1")
	insertPending(t, f.logs, "tx-2")

	f.queue.Process("tx-1")
	f.queue.Process("tx-2")

	assert.Eventually(t, func() bool {
		return f.queue.Statistics().Completed == 2
	}, 5*time.Second, 10*time.Millisecond)

	assert.Len(t, f.notifications.All(), 2)
	stats := f.queue.Statistics()
	assert.Zero(t, stats.QueueDepth)
	assert.Zero(t, stats.Failures)
}

func TestQueueCountsFailures(t *testing.T) {
	f := newQueueFixture(t, brokenLogStore{})
	defer f.queue.Shutdown(time.Second)

	f.queue.Process("tx-1")

	assert.Eventually(t, func() bool {
		return f.queue.Statistics().Failures == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Zero(t, f.queue.Statistics().Completed)
}

func TestQueueDropsRequestsAfterShutdown(t *testing.T) {
	f := newQueueFixture(t, memory.NewLogStore())

	f.queue.Shutdown(time.Second)

	insertPending(t, f.logs, "tx-late")
	f.queue.Process("tx-late")

	stats := f.queue.Statistics()
	assert.Zero(t, stats.QueueDepth)
	assert.Zero(t, stats.Completed)
	assert.Empty(t, f.notifications.All())
}

func TestQueueShutdownDrainsPendingWork(t *testing.T) {
	f := newQueueFixture(t, memory.NewLogStore())

	for _, txID := range []string{"tx-1", "tx-2", "tx-3"} {
		insertPending(t, f.logs, txID)
		f.queue.Process(txID)
	}

	f.queue.Shutdown(5 * time.Second)

	assert.Equal(t, uint64(3), f.queue.Statistics().Completed)
}

func TestQueueShutdownIsReentrant(t *testing.T) {
	f := newQueueFixture(t, memory.NewLogStore())
	f.queue.Shutdown(time.Second)
	f.queue.Shutdown(time.Second)
}

// brokenLogStore fails every read so queue failure accounting can be
// observed.
type brokenLogStore struct{}

var errStoreOffline = errors.New("store offline")

func (brokenLogStore) Insert(context.Context, []audit.Log) error { return nil }

func (brokenLogStore) CandidateTxIDs(context.Context, int, int) ([]string, error) {
	return nil, errStoreOffline
}

func (brokenLogStore) FetchGroups(context.Context, string, int, int, int) ([]audit.Group, error) {
	return nil, errStoreOffline
}

func (brokenLogStore) FetchGroupLogs(context.Context, audit.GroupKey) ([]audit.Log, error) {
	return nil, errStoreOffline
}

func (brokenLogStore) MarkProcessed(context.Context, audit.GroupKey, time.Time) error {
	return nil
}

func (brokenLogStore) MarkFailed(context.Context, audit.GroupKey, int, bool, string) error {
	return nil
}
