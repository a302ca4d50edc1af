package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/storyforge/weft/internal/dispatch"
	"github.com/storyforge/weft/internal/engine"
	"github.com/storyforge/weft/internal/logging"
	"github.com/storyforge/weft/internal/plugins"
	"github.com/storyforge/weft/internal/scheduler"
	"github.com/storyforge/weft/internal/store"
	"github.com/storyforge/weft/internal/validation"
	"github.com/storyforge/weft/pkg/schema"
)

func main() {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch parseLogLevel(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

// auditDefinitions validates every active workflow at boot and logs the
// issues. Definitions are edited out of process, so a broken one should
// surface here rather than as a failed scheduled run.
func auditDefinitions(ctx context.Context, st store.Store, validator *validation.Validator, logger *slog.Logger) {
	active := schema.WorkflowStatusActive
	defs, err := st.ListWorkflows(ctx, store.WorkflowFilter{Status: &active})
	if err != nil {
		logger.Error("definition audit failed", slog.String("error", err.Error()))
		return
	}
	for _, def := range defs {
		result := validator.Validate(def)
		if result.Valid() {
			continue
		}
		for _, issue := range result.Errors {
			logger.Warn("workflow definition invalid",
				slog.String("workflow_id", def.ID),
				slog.String("code", issue.Code),
				slog.String("path", issue.Path),
				slog.String("message", issue.Message))
		}
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return err
	}

	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return err
	}
	logger.Info("store ready", slog.String("db_path", cfg.DBPath))

	validator, err := validation.NewValidator()
	if err != nil {
		return err
	}
	auditDefinitions(ctx, st, validator, logger)

	registry := plugins.NewRegistry()
	if err := registry.Register(plugins.NewHTTPPlugin(plugins.HTTPConfig{})); err != nil {
		return err
	}
	if err := registry.Register(plugins.NewTransformPlugin()); err != nil {
		return err
	}

	var external []*plugins.StdioPlugin
	for _, spec := range cfg.Plugins {
		p, err := plugins.StartStdioPlugin(ctx, plugins.StdioConfig{
			ID:      spec.ID,
			Command: spec.Command,
			Args:    spec.Args,
			Env:     spec.Env,
		}, logger)
		if err != nil {
			logger.Error("plugin failed to start",
				slog.String("plugin_id", spec.ID),
				slog.String("error", err.Error()))
			continue
		}
		if err := registry.Register(p); err != nil {
			logger.Error("plugin registration failed",
				slog.String("plugin_id", spec.ID),
				slog.String("error", err.Error()))
			_ = p.Stop()
			continue
		}
		external = append(external, p)
	}
	defer func() {
		for _, p := range external {
			_ = p.Stop()
		}
	}()

	dispatcher := dispatch.NewLocal(registry, logger)
	exec := engine.NewExecutor(st, dispatcher, logger)

	var sched *scheduler.Scheduler
	if cfg.Scheduler {
		sched = scheduler.NewScheduler(st, exec, logger)
		if err := sched.RecoverMissed(ctx); err != nil {
			logger.Error("missed-run recovery failed", slog.String("error", err.Error()))
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
	}

	logger.Info("weft engine running", slog.Int("plugins", len(registry.List())))
	<-ctx.Done()
	logger.Info("shutting down")

	if sched != nil {
		_ = sched.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := exec.Shutdown(shutdownCtx); err != nil {
		logger.Error("runs did not finalize before timeout", slog.String("error", err.Error()))
	}
	return nil
}
