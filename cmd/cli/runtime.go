package cli

import (
	"context"

	"github.com/anstrom/livescan/internal/config"
	"github.com/anstrom/livescan/internal/db"
	"github.com/anstrom/livescan/internal/dispatch"
	"github.com/anstrom/livescan/internal/lifecycle"
	"github.com/anstrom/livescan/internal/logging"
	"github.com/anstrom/livescan/internal/metrics"
	"github.com/anstrom/livescan/internal/scheduler"
	"github.com/anstrom/livescan/internal/supervisor"
)

// runtime is the wired scan core shared by the console and the server.
type runtime struct {
	cfg        *config.Config
	logger     *logging.Logger
	metrics    *metrics.PrometheusMetrics
	collector  metrics.Collector
	hub        *dispatch.Hub
	controller *lifecycle.Controller
	database   *db.DB
	recorder   *db.Recorder
	scheduler  *scheduler.Scheduler
}

// newRuntime builds the controller and its collaborators. Session history
// is recorded when the database is enabled.
func newRuntime(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger, collector: metrics.Nop{}}
	if cfg.Metrics.Enabled {
		rt.metrics = metrics.NewPrometheusMetrics()
		rt.collector = rt.metrics
	}

	rt.hub = dispatch.NewHub(cfg.API.EventBuffer, rt.collector)
	bridge := dispatch.NewBridge(dispatch.NewLogSink(logger), rt.hub)

	var observer lifecycle.Observer
	if cfg.Database.Enabled {
		dbConfig := cfg.GetDatabaseConfig()
		database, err := db.ConnectAndMigrate(ctx, &dbConfig, logger)
		if err != nil {
			rt.hub.Close()
			return nil, err
		}
		rt.database = database
		rt.recorder = db.NewRecorder(database, cfg.WorkersConfig(), logger, rt.collector)
		bridge.Attach(rt.recorder)
		observer = rt.recorder
	}

	supOpts := cfg.SupervisorOptions(logger)
	supOpts.Metrics = rt.collector
	rt.controller = lifecycle.NewController(cfg.LifecycleConfig(), lifecycle.Deps{
		Supervisor: supervisor.New(supOpts),
		Bridge:     bridge,
		Logger:     logger,
		Metrics:    rt.collector,
		Observer:   observer,
	})
	return rt, nil
}

// startScheduler registers the configured scheduled scans and starts the
// cron loop. It does nothing when scheduling is disabled.
func (rt *runtime) startScheduler() error {
	if !rt.cfg.Scheduler.Enabled {
		return nil
	}

	s := scheduler.New(rt.controller, rt.logger, rt.collector)
	for _, job := range rt.cfg.Scheduler.Jobs {
		err := s.Add(scheduler.Job{
			Name:        job.Name,
			Cron:        job.Cron,
			Options:     rt.cfg.ScheduledOptions(job),
			MaxDuration: job.MaxDuration,
		})
		if err != nil {
			return err
		}
	}
	if err := s.Start(); err != nil {
		return err
	}
	rt.scheduler = s
	return nil
}

// Close stops the scheduler and any running session, drains the history
// writer and closes the event hub.
func (rt *runtime) Close(ctx context.Context) {
	if rt.scheduler != nil {
		rt.scheduler.Stop()
	}
	if err := rt.controller.Shutdown(ctx); err != nil {
		rt.logger.Warn("Scan session did not finish before shutdown", "error", err)
	}
	if rt.recorder != nil {
		if err := rt.recorder.Close(); err != nil {
			rt.logger.Error("Failed to drain session history", "error", err)
		}
	}
	if rt.database != nil {
		if err := rt.database.Close(); err != nil {
			rt.logger.Error("Failed to close database connection", "error", err)
		}
	}
	rt.hub.Close()
}
