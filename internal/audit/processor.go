package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/juju/clock"
	"github.com/lib/pq"

	"chronicle/internal/entity"
	"chronicle/internal/platform/config"
	"chronicle/internal/platform/metrics"
)

const maxErrorMessageLen = 1000

// lockNotAvailable is the SQLSTATE raised by FOR UPDATE NOWAIT when another
// run already holds the rows.
const lockNotAvailable = "55P03"

// Processor drains the durable audit log in small batches, consolidates rows
// into logical changes, re-runs rule evaluation and marks rows processed. It
// yields to live traffic via the coordinator and never lets one group's
// failure abort a batch.
type Processor struct {
	logs        LogStore
	resolver    EntityResolver
	generator   *Generator
	coordinator *Coordinator
	types       *entity.Registry
	clock       clock.Clock
	runTx       Runner
	cfg         config.Audit
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// NewProcessor wires the batch processor. metrics may be nil; runTx defaults
// to PassthroughRunner when nil.
func NewProcessor(
	logs LogStore,
	resolver EntityResolver,
	generator *Generator,
	coordinator *Coordinator,
	types *entity.Registry,
	clk clock.Clock,
	runTx Runner,
	cfg config.Audit,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Processor {
	if runTx == nil {
		runTx = PassthroughRunner
	}
	return &Processor{
		logs:        logs,
		resolver:    resolver,
		generator:   generator,
		coordinator: coordinator,
		types:       types,
		clock:       clk,
		runTx:       runTx,
		cfg:         cfg,
		logger:      logger,
		metrics:     m,
	}
}

// Process drains all pending work, one transaction at a time, ordered by the
// earliest record creation.
func (p *Processor) Process(ctx context.Context) error {
	candidates, err := p.logs.CandidateTxIDs(ctx, p.cfg.MaxRetry, p.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	p.logger.Info("recovering audit logs", "transactions", len(candidates))

	for _, txID := range candidates {
		if p.stopping(ctx) {
			break
		}
		if err := p.ProcessTx(ctx, txID); err != nil {
			// one transaction's failure must not starve the rest; the rows
			// stay pending for the next sweep
			p.logger.Error("skipping transaction after processing error", "txId", txID, "error", err)
		}
	}
	return nil
}

// ProcessTx processes the pending audit logs of one transaction.
func (p *Processor) ProcessTx(ctx context.Context, txID string) error {
	p.logger.Debug("starting audit log processing", "txId", txID)

	offset := 0
	totalProcessed := 0
	totalFailed := 0
	busyWaitCount := 0

	for {
		if p.stopping(ctx) {
			break
		}

		// yield to live traffic, but not forever
		if p.coordinator.Busy() && busyWaitCount < p.cfg.BusyBackoffMaxRetries {
			busyWaitCount++
			if !p.pause(ctx, p.cfg.BusyBackoff) {
				break
			}
			continue
		}
		busyWaitCount = 0

		var succeeded, failed int
		err := p.runTx(ctx, func(ctx context.Context) error {
			var batchErr error
			succeeded, failed, batchErr = p.processBatch(ctx, txID, offset)
			return batchErr
		})
		if err != nil {
			if isLockConflict(err) {
				// another run holds the rows; they will be picked up later
				p.logger.Debug("audit log rows locked, yielding", "txId", txID)
				return nil
			}
			p.logger.Error("unexpected error processing audit logs", "txId", txID, "error", err)
			return err
		}

		totalProcessed += succeeded
		totalFailed += failed

		// failed groups stay pending; skip past them next round
		offset += failed

		if succeeded+failed < p.cfg.BatchSize {
			break
		}

		if p.stopping(ctx) {
			break
		}

		// small pacing pause so sustained processing does not monopolize the
		// database
		if !p.pause(ctx, p.cfg.BatchDelay) {
			break
		}
	}

	p.logger.Debug("audit log processing complete",
		"txId", txID, "processed", totalProcessed, "failed", totalFailed)
	return nil
}

func (p *Processor) processBatch(ctx context.Context, txID string, offset int) (succeeded, failed int, err error) {
	groups, err := p.logs.FetchGroups(ctx, txID, p.cfg.MaxRetry, p.cfg.BatchSize, offset)
	if err != nil {
		return 0, 0, err
	}

	for _, group := range groups {
		if err := p.processGroup(ctx, group.Key); err != nil {
			failed++
			p.handleError(ctx, group.Key, err)
			if p.metrics != nil {
				p.metrics.LogsFailed.Inc()
			}
			continue
		}
		succeeded++
		if p.metrics != nil {
			p.metrics.LogsProcessed.Inc()
		}
	}

	return succeeded, failed, nil
}

// processGroup consolidates the pending rows of one group into a single
// logical change and generates its notification: previous state from the
// first row, current state from the last, mirroring the synchronous
// tracker's consolidation rule.
func (p *Processor) processGroup(ctx context.Context, key GroupKey) error {
	logs, err := p.logs.FetchGroupLogs(ctx, key)
	if err != nil {
		return err
	}
	if len(logs) == 0 {
		// already processed by a prior consolidation pass
		return nil
	}

	first := logs[0]
	last := logs[len(logs)-1]

	oldValues := unmarshalState(first.PreviousState, p.logger)
	values := unmarshalState(last.CurrentState, p.logger)

	e, err := p.resolver.Resolve(ctx, key.RelatedModel, key.RelatedID)
	switch {
	case errors.Is(err, ErrNotFound):
		// entity deleted since; the change is no longer auditable
		p.logger.Debug("entity gone, skipping notification",
			"model", key.RelatedModel, "id", key.RelatedID)
	case err != nil:
		return err
	default:
		state := &EntityState{
			Entity:   e,
			Event:    key.EventType,
			Values:   p.parseValues(key.RelatedModel, values),
			Received: last.CreatedOn,
		}
		if first.PreviousState != nil {
			state.OldValues = p.parseValues(key.RelatedModel, oldValues)
		}
		if err := p.generator.Process(ctx, state, last.Author); err != nil {
			return err
		}
	}

	return p.logs.MarkProcessed(ctx, key, p.clock.Now())
}

// parseValues coerces JSON-decoded values back into their declared in-memory
// types. References and undeclared fields pass through unchanged.
func (p *Processor) parseValues(model string, values map[string]any) map[string]any {
	typ := p.types.Find(model)
	if typ == nil {
		return values
	}
	parsed := make(map[string]any, len(values))
	for name, value := range values {
		prop, ok := typ.Property(name)
		if !ok || prop.Kind == entity.KindReference {
			parsed[name] = value
			continue
		}
		adapted, err := entity.Adapt(value, prop.Kind)
		if err != nil {
			p.logger.Debug("state value adaptation failed", "field", name, "error", err)
		}
		parsed[name] = adapted
	}
	return parsed
}

// handleError records a processing failure on the group. Once the retry
// budget is exhausted the group is parked (processed=true) so it stops
// retrying; the stored error message is the operator's signal.
func (p *Processor) handleError(ctx context.Context, key GroupKey, cause error) {
	p.logger.Error("failed to process audit log group",
		"txId", key.TxID, "model", key.RelatedModel, "id", key.RelatedID,
		"event", key.EventType, "error", cause)

	message := cause.Error()
	if len(message) > maxErrorMessageLen {
		message = message[:maxErrorMessageLen]
	}

	retry := 1
	if logs, err := p.logs.FetchGroupLogs(ctx, key); err == nil && len(logs) > 0 {
		retry = logs[0].RetryCount + 1
	}

	parked := retry >= p.cfg.MaxRetry
	if parked {
		p.logger.Error("max retries exceeded for audit log group",
			"txId", key.TxID, "model", key.RelatedModel, "id", key.RelatedID)
	}

	if err := p.logs.MarkFailed(ctx, key, retry, parked, message); err != nil {
		p.logger.Error("failed to record audit log failure", "txId", key.TxID, "error", err)
	}
}

func (p *Processor) stopping(ctx context.Context) bool {
	return ctx.Err() != nil || p.coordinator.Stopping()
}

// pause sleeps for d, returning false when processing should stop instead.
func (p *Processor) pause(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-p.clock.After(d):
		return !p.coordinator.Stopping()
	}
}

func isLockConflict(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == lockNotAvailable
	}
	return false
}
