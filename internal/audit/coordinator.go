package audit

import (
	"sync/atomic"
	"time"

	"github.com/juju/clock"
)

// Coordinator owns the shared state linking the synchronous tracking path
// and the batch processor: the last-activity timestamp used for cooperative
// throttling, and the stop flag flipped at shutdown. It is passed by
// reference to both sides so the dependency stays explicit and testable.
type Coordinator struct {
	clock  clock.Clock
	window time.Duration

	lastActivity atomic.Int64 // unix nanos, zero means never
	stopping     atomic.Bool
}

// NewCoordinator builds a coordinator with the given activity window.
func NewCoordinator(clk clock.Clock, window time.Duration) *Coordinator {
	return &Coordinator{clock: clk, window: window}
}

// SignalActivity records that a tracked mutation is happening so the
// processor yields. Mutations of the pipeline's own records are ignored to
// avoid a feedback loop.
func (c *Coordinator) SignalActivity(model string) {
	switch model {
	case ModelAuditLog, ModelNotification, ModelFollower:
		return
	}
	c.lastActivity.Store(c.clock.Now().UnixNano())
}

// Busy reports whether activity was signaled within the activity window.
func (c *Coordinator) Busy() bool {
	last := c.lastActivity.Load()
	if last == 0 {
		return false
	}
	return c.clock.Now().UnixNano()-last < int64(c.window)
}

// RequestStop asks in-flight processing loops to exit promptly. The flag is
// checked each iteration before sleeping.
func (c *Coordinator) RequestStop() {
	c.stopping.Store(true)
}

// Stopping reports whether shutdown was requested.
func (c *Coordinator) Stopping() bool {
	return c.stopping.Load()
}
