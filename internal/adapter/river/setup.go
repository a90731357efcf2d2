package river

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riversqlite"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/neomorfeo/tenantclock/internal/domain"
)

// Config wires the jobs River runs.
type Config struct {
	// Notifier delivers notifications for published lifecycle events.
	Notifier domain.Notifier
	// Run is called by the periodic lifecycle job every RunInterval.
	// A zero interval disables the periodic job.
	Run         RunFunc
	RunInterval time.Duration
	// Purge is called by the periodic token purge job every PurgeInterval.
	Purge         RunFunc
	PurgeInterval time.Duration
	MaxWorkers    int
	Logger        *slog.Logger
}

// Setup creates a River client with the workers registered and runs River's
// internal migrations. The caller must call client.Start() to begin
// processing jobs and client.Stop() for graceful shutdown.
func Setup(ctx context.Context, db *sql.DB, cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 2
	}

	driver := riversqlite.New(db)

	// River's own tables (river_job, river_leader, ...) are versioned apart
	// from the app's goose migrations.
	migrator, err := rivermigrate.New(driver, nil)
	if err != nil {
		return nil, fmt.Errorf("creating river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return nil, fmt.Errorf("running river migrations: %w", err)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &EventWorker{notifier: cfg.Notifier, logger: cfg.Logger})
	river.AddWorker(workers, &LifecycleRunWorker{run: cfg.Run})
	river.AddWorker(workers, &TokenPurgeWorker{purge: cfg.Purge})

	client, err := river.NewClient(driver, &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.MaxWorkers},
		},
		Workers:      workers,
		PeriodicJobs: periodicJobs(cfg),
		Logger:       cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating river client: %w", err)
	}

	return client, nil
}

func periodicJobs(cfg Config) []*river.PeriodicJob {
	var jobs []*river.PeriodicJob
	if cfg.Run != nil && cfg.RunInterval > 0 {
		jobs = append(jobs, river.NewPeriodicJob(
			river.PeriodicInterval(cfg.RunInterval),
			func() (river.JobArgs, *river.InsertOpts) {
				return LifecycleRunArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		))
	}
	if cfg.Purge != nil && cfg.PurgeInterval > 0 {
		jobs = append(jobs, river.NewPeriodicJob(
			river.PeriodicInterval(cfg.PurgeInterval),
			func() (river.JobArgs, *river.InsertOpts) {
				return TokenPurgeArgs{}, nil
			},
			nil,
		))
	}
	return jobs
}
