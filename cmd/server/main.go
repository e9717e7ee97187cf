package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/clock"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"chronicle/internal/audit"
	"chronicle/internal/audit/store/memory"
	"chronicle/internal/audit/store/postgres"
	"chronicle/internal/entity"
	"chronicle/internal/expr"
	"chronicle/internal/platform/config"
	"chronicle/internal/platform/httpserver"
	"chronicle/internal/platform/logger"
	"chronicle/internal/platform/metrics"
	"chronicle/internal/track"
	httptransport "chronicle/internal/transport/http"
)

// main wires the audit pipeline and keeps the server lifecycle small.
// Business logic lives in the internal packages.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()
	clk := clock.WallClock

	types := entity.NewRegistry()
	rules := track.NewRules()
	if err := track.LoadFile(cfg.RulesPath, types, rules); err != nil {
		return fmt.Errorf("load tracking rules: %w", err)
	}

	var (
		logs          audit.LogStore
		notifications audit.NotificationStore
		followers     audit.FollowerStore
		resolver      audit.EntityResolver
		runTx         audit.Runner
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		if err := postgres.Migrate(context.Background(), db); err != nil {
			return err
		}
		logs = postgres.NewLogStore(db)
		notifications = postgres.NewNotificationStore(db)
		followers = postgres.NewFollowerStore(db)
		resolver = postgres.NewResolver(db, tableMapping(rules))
		runTx = postgres.Runner(db)
	} else {
		log.Warn("no database configured, using in-memory stores")
		logs = memory.NewLogStore()
		notifications = memory.NewNotificationStore()
		followers = memory.NewFollowerStore()
		resolver = memory.NewResolver()
	}

	pipeline := audit.NewPipeline(audit.PipelineDeps{
		Logs:          logs,
		Notifications: notifications,
		Followers:     followers,
		Resolver:      resolver,
		RunTx:         runTx,
		Types:         types,
		Rules:         rules,
		Script:        expr.NewLang(),
		Clock:         clk,
		Logger:        log,
		Metrics:       m,
	}, cfg.Audit)

	handler := httptransport.New(pipeline.Processor, pipeline.Queue, log)
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handler))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting chronicle", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return pipeline.Job.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Audit.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	})

	err := g.Wait()
	pipeline.Queue.Shutdown(cfg.Audit.ShutdownTimeout)
	return err
}

// tableMapping maps tracked model names to their backing tables. Models use
// dotted names; tables use the lowercased last segment.
func tableMapping(rules *track.Rules) map[string]string {
	tables := make(map[string]string)
	for _, model := range rules.All() {
		tables[model.Name] = entity.TableName(model.Name)
	}
	return tables
}
