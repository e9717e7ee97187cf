package audit

import (
	"log/slog"

	"github.com/juju/clock"

	"chronicle/internal/entity"
	"chronicle/internal/expr"
	"chronicle/internal/platform/config"
	"chronicle/internal/platform/metrics"
	"chronicle/internal/track"
)

// PipelineDeps bundles the external collaborators of a full change tracking
// pipeline. Metrics, Listener and Attachments may be nil; User defaults to a
// constant system author.
type PipelineDeps struct {
	Logs          LogStore
	Notifications NotificationStore
	Followers     FollowerStore
	Resolver      EntityResolver
	RunTx         Runner
	Types         *entity.Registry
	Rules         *track.Rules
	Script        expr.Engine
	Listener      CompletionListener
	Attachments   AttachmentService
	User          UserFunc
	Clock         clock.Clock
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

// Pipeline is the assembled change tracking pipeline. Embedders plug Hook
// into their persistence layer; the server runs Job and exposes Processor
// and Queue over HTTP.
type Pipeline struct {
	Hook        *Hook
	Processor   *Processor
	Queue       Queue
	Coordinator *Coordinator
	Job         *Job
}

// NewPipeline wires a pipeline from configuration. Every knob of cfg is
// consumed here, including the capture-side FlushThreshold and
// DirectNotifications.
func NewPipeline(deps PipelineDeps, cfg config.Audit) *Pipeline {
	user := deps.User
	if user == nil {
		user = func() string { return "system" }
	}

	coordinator := NewCoordinator(deps.Clock, cfg.ActivityWindow)
	generator := NewGenerator(
		deps.Notifications, deps.Followers, deps.Types, deps.Rules, deps.Script, deps.Logger, deps.Metrics)
	processor := NewProcessor(
		deps.Logs, deps.Resolver, generator, coordinator, deps.Types, deps.Clock, deps.RunTx, cfg, deps.Logger, deps.Metrics)

	var queue Queue
	if cfg.AsyncDisabled {
		queue = NopQueue{}
	} else {
		queue = NewAsyncQueue(processor, coordinator, deps.Logger, deps.Metrics)
	}

	hook := NewHook(TrackerDeps{
		Rules:          deps.Rules,
		Types:          deps.Types,
		Logs:           deps.Logs,
		Generator:      generator,
		Queue:          queue,
		Coordinator:    coordinator,
		Listener:       deps.Listener,
		Attachments:    deps.Attachments,
		Clock:          deps.Clock,
		Logger:         deps.Logger,
		FlushThreshold: cfg.FlushThreshold,
		Direct:         cfg.DirectNotifications,
	}, user, deps.Logger)

	return &Pipeline{
		Hook:        hook,
		Processor:   processor,
		Queue:       queue,
		Coordinator: coordinator,
		Job:         NewJob(processor, cfg.JobInterval, deps.Clock, deps.Logger),
	}
}
