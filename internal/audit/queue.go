package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"chronicle/internal/platform/metrics"
)

// Statistics reports the dispatch queue's operational state.
type Statistics struct {
	QueueDepth int    `json:"queueDepth"`
	Completed  uint64 `json:"completed"`
	Active     bool   `json:"active"`
	Failures   uint64 `json:"failures"`
}

// Queue decouples durable-record creation from notification generation.
// Process requests are fire-and-forget and best-effort: a request made after
// shutdown is silently dropped.
type Queue interface {
	Process(txID string)
	Statistics() Statistics
	Shutdown(timeout time.Duration)
}

// AsyncQueue runs exactly one background worker draining dispatch requests
// strictly FIFO. The worker opens no transactional context of its own; the
// processor does, per batch.
type AsyncQueue struct {
	processor   *Processor
	coordinator *Coordinator
	logger      *slog.Logger
	metrics     *metrics.Metrics

	mu        sync.Mutex
	cond      *sync.Cond
	pending   []string
	closed    bool
	active    bool
	completed uint64
	failures  uint64

	done chan struct{}
}

// NewAsyncQueue builds the queue and starts its worker. metrics may be nil.
func NewAsyncQueue(processor *Processor, coordinator *Coordinator, logger *slog.Logger, m *metrics.Metrics) *AsyncQueue {
	q := &AsyncQueue{
		processor:   processor,
		coordinator: coordinator,
		logger:      logger,
		metrics:     m,
		done:        make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// Process enqueues a request to process the audit logs of one transaction.
// Requests after shutdown are dropped without error; async audit is
// best-effort relative to the triggering operation's success.
func (q *AsyncQueue) Process(txID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Debug("audit queue closed, dropping request", "txId", txID)
		return
	}
	q.pending = append(q.pending, txID)
	if q.metrics != nil {
		q.metrics.QueueDepth.Set(float64(len(q.pending)))
	}
	q.cond.Signal()
}

// Statistics returns the current queue depth, cumulative counters and
// whether the worker is processing a task right now.
func (q *AsyncQueue) Statistics() Statistics {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Statistics{
		QueueDepth: len(q.pending),
		Completed:  q.completed,
		Active:     q.active,
		Failures:   q.failures,
	}
}

// Shutdown stops accepting work, waits up to timeout for the queue to drain,
// then requests cooperative stop and abandons whatever is still queued.
func (q *AsyncQueue) Shutdown(timeout time.Duration) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()

	select {
	case <-q.done:
		return
	case <-time.After(timeout):
	}

	q.logger.Warn("audit queue drain timed out, forcing stop")
	q.coordinator.RequestStop()

	q.mu.Lock()
	dropped := len(q.pending)
	q.pending = nil
	q.cond.Broadcast()
	q.mu.Unlock()

	if dropped > 0 {
		q.logger.Warn("abandoned queued audit work", "dropped", dropped)
	}
	<-q.done
}

func (q *AsyncQueue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		txID := q.pending[0]
		q.pending = q.pending[1:]
		q.active = true
		if q.metrics != nil {
			q.metrics.QueueDepth.Set(float64(len(q.pending)))
			q.metrics.WorkerActive.Set(1)
		}
		q.mu.Unlock()

		err := q.processor.ProcessTx(context.Background(), txID)

		q.mu.Lock()
		q.active = false
		if err != nil {
			q.failures++
			q.logger.Error("audit processing failed", "txId", txID, "error", err)
			if q.metrics != nil {
				q.metrics.TaskFailures.Inc()
			}
		} else {
			q.completed++
			if q.metrics != nil {
				q.metrics.TasksCompleted.Inc()
			}
		}
		if q.metrics != nil {
			q.metrics.WorkerActive.Set(0)
		}
		q.mu.Unlock()
	}
}

// NopQueue disables asynchronous audit entirely.
type NopQueue struct{}

func (NopQueue) Process(string)         {}
func (NopQueue) Statistics() Statistics { return Statistics{} }
func (NopQueue) Shutdown(time.Duration) {}
