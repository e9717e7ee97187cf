package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/juju/clock"
)

// Job periodically sweeps the durable audit log for pending work, picking up
// transactions whose dispatch was lost (crash, queue drop at shutdown).
type Job struct {
	processor *Processor
	interval  time.Duration
	clock     clock.Clock
	logger    *slog.Logger
}

// NewJob builds the recovery sweep job.
func NewJob(processor *Processor, interval time.Duration, clk clock.Clock, logger *slog.Logger) *Job {
	return &Job{processor: processor, interval: interval, clock: clk, logger: logger}
}

// Run triggers the processor every interval until ctx is cancelled.
func (j *Job) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-j.clock.After(j.interval):
			if err := j.processor.Process(ctx); err != nil {
				j.logger.Error("scheduled audit processing failed", "error", err)
			}
		}
	}
}
