package river

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/neomorfeo/tenantclock/internal/domain"
)

// EventWorker turns lifecycle event jobs into owner notifications. A failed
// delivery returns an error so River retries the job with its own backoff.
type EventWorker struct {
	river.WorkerDefaults[EventJobArgs]
	notifier domain.Notifier
	logger   *slog.Logger
}

// Work processes a single event job. Events without a notification are
// cancelled rather than retried.
func (w *EventWorker) Work(ctx context.Context, job *river.Job[EventJobArgs]) error {
	kind, ok := domain.NotificationFor(domain.Event(job.Args.Event))
	if !ok {
		w.logger.WarnContext(ctx, "no notification for event",
			"event", job.Args.Event,
			"tenant_id", job.Args.TenantID,
		)
		return river.JobCancel(fmt.Errorf("no notification for event %q", job.Args.Event))
	}

	if err := w.notifier.Send(ctx, kind, job.Args.Tenant()); err != nil {
		return fmt.Errorf("sending %s notification: %w", kind, err)
	}

	w.logger.InfoContext(ctx, "lifecycle notification sent",
		"event", job.Args.Event,
		"kind", kind,
		"tenant_id", job.Args.TenantID,
		"job_id", job.ID,
		"attempt", job.Attempt,
	)
	return nil
}

// RunFunc evaluates all tenants at now.
type RunFunc func(ctx context.Context, now time.Time) error

// LifecycleRunArgs triggers one lifecycle pass.
type LifecycleRunArgs struct{}

// Kind returns the unique job type identifier used by River's job routing.
func (LifecycleRunArgs) Kind() string { return "lifecycle.run" }

// LifecycleRunWorker runs the lifecycle engine when its periodic job fires.
type LifecycleRunWorker struct {
	river.WorkerDefaults[LifecycleRunArgs]
	run RunFunc
}

// Timeout lets a pass over many tenants outlive River's default job timeout.
func (w *LifecycleRunWorker) Timeout(*river.Job[LifecycleRunArgs]) time.Duration {
	return 30 * time.Minute
}

// Work runs one lifecycle pass at the current time.
func (w *LifecycleRunWorker) Work(ctx context.Context, _ *river.Job[LifecycleRunArgs]) error {
	if w.run == nil {
		return river.JobCancel(errors.New("lifecycle run not configured"))
	}
	return w.run(ctx, time.Now())
}

// TokenPurgeArgs triggers removal of long-expired tokens.
type TokenPurgeArgs struct{}

// Kind returns the unique job type identifier used by River's job routing.
func (TokenPurgeArgs) Kind() string { return "tokens.purge" }

// TokenPurgeWorker deletes tokens whose retention has run out.
type TokenPurgeWorker struct {
	river.WorkerDefaults[TokenPurgeArgs]
	purge RunFunc
}

// Work runs one purge at the current time.
func (w *TokenPurgeWorker) Work(ctx context.Context, _ *river.Job[TokenPurgeArgs]) error {
	if w.purge == nil {
		return river.JobCancel(errors.New("token purge not configured"))
	}
	return w.purge(ctx, time.Now())
}
