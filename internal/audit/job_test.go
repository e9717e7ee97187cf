package audit_test

import (
	"context"
	"encoding/json"
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

func TestJobSweepsOnInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := testclock.NewClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	logs := memory.NewLogStore()

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

	resolver := memory.NewResolver()
	resolver.Register(&entity.Record{Model: "sale.Order", ID: 1, Values: map[string]any{"reference": "SO-1"}})
	notifications := memory.NewNotificationStore()

	cfg := config.Audit{BatchSize: 10, MaxRetry: 3}
	coordinator := audit.NewCoordinator(clk, 100*time.Millisecond)
	generator := audit.NewGenerator(
		notifications, memory.NewFollowerStore(), types, rules, expr.NewLang(), logger, nil)
	processor := audit.NewProcessor(
		logs, resolver, generator, coordinator, types, clk, nil, cfg, logger, nil)

	current, err := json.Marshal(map[string]any{"name": "A"})
	require.NoError(t, err)
	require.NoError(t, logs.Insert(ctx, []audit.Log{{
		TxID:         "tx-lost",
		RelatedModel: "sale.Order",
		RelatedID:    1,
		EventType:    audit.EventCreate,
		CurrentState: current,
		CreatedOn:    clk.Now(),
	}}))

	job := audit.NewJob(processor, time.Minute, clk, logger)
	done := make(chan error, 1)
	go func() {
		done <- job.Run(ctx)
	}()

	require.NoError(t, clk.WaitAdvance(time.Minute, time.Second, 1))

	assert.Eventually(t, func() bool {
		return len(notifications.All()) == 1
	}, 5*time.Second, 10*time.Millisecond, "lost transaction recovered by the sweep")

	cancel()
	require.NoError(t, <-done)
}
