package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/neomorfeo/tenantclock/internal/domain"
)

// Outcome describes what a single evaluation did to a tenant.
type Outcome string

const (
	OutcomeNone     Outcome = "none"
	OutcomeWarned   Outcome = "warned"
	OutcomeAdvanced Outcome = "advanced"
	OutcomeLocked   Outcome = "locked"
)

// Failure records a tenant whose evaluation failed during a run.
type Failure struct {
	TenantID string
	Err      error
}

// RunReport summarises one pass over all non-terminal tenants.
type RunReport struct {
	Warned       int
	Transitioned int
	Locked       int
	Failures     []Failure
}

// EngineOptions tunes the lifecycle engine. Zero values fall back to defaults.
type EngineOptions struct {
	Schedule domain.Schedule
	// Concurrency bounds how many tenants are evaluated in parallel.
	Concurrency int
	// MaxAttempts bounds retries of transient store errors and version conflicts.
	MaxAttempts uint
	// RetryInterval is the initial backoff between attempts.
	RetryInterval time.Duration
	// NotifyTimeout caps a single notification delivery.
	NotifyTimeout time.Duration
	Logger        *slog.Logger
}

// DefaultEngineOptions returns sensible defaults.
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		Schedule:      domain.DefaultSchedule(),
		Concurrency:   8,
		MaxAttempts:   3,
		RetryInterval: 200 * time.Millisecond,
		NotifyTimeout: 10 * time.Second,
	}
}

// LifecycleEngine walks tenants through the configured phases, sending expiry
// warnings and locking tenants whose last phase ran out.
type LifecycleEngine struct {
	repo      domain.TenantRepository
	notifier  domain.Notifier
	publisher domain.EventPublisher
	validator domain.TransitionValidator
	opts      EngineOptions
	logger    *slog.Logger
}

// NewLifecycleEngine creates an engine with the given adapters.
func NewLifecycleEngine(
	repo domain.TenantRepository,
	notifier domain.Notifier,
	publisher domain.EventPublisher,
	validator domain.TransitionValidator,
	opts EngineOptions,
) (*LifecycleEngine, error) {
	defaults := DefaultEngineOptions()
	if len(opts.Schedule.Phases) == 0 {
		opts.Schedule = defaults.Schedule
	}
	if err := opts.Schedule.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schedule: %w", err)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaults.Concurrency
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = defaults.MaxAttempts
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = defaults.RetryInterval
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = defaults.NotifyTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &LifecycleEngine{
		repo:      repo,
		notifier:  notifier,
		publisher: publisher,
		validator: validator,
		opts:      opts,
		logger:    logger,
	}, nil
}

// Evaluate decides, from the tenant's persisted timestamps alone, whether it
// should be warned, moved to the next phase or locked at now, and applies that
// decision with a single version-conditioned write.
func (e *LifecycleEngine) Evaluate(ctx context.Context, tenant domain.Tenant, now time.Time) (Outcome, error) {
	if err := tenant.Validate(e.opts.Schedule); err != nil {
		return OutcomeNone, err
	}
	if tenant.State.Terminal() {
		return OutcomeNone, nil
	}

	now = now.UTC()
	elapsed := now.Sub(tenant.PhaseStartAt)
	length := tenant.PhaseLength()

	if elapsed >= length {
		return e.expire(ctx, tenant, now)
	}

	warnAt := e.opts.Schedule.Phases[tenant.PhaseIndex].WarningAt(length)
	if elapsed >= warnAt && !tenant.WarningSentForPhase {
		return e.warn(ctx, tenant)
	}

	return OutcomeNone, nil
}

// expire moves the tenant into the next phase, or locks it after the last one.
func (e *LifecycleEngine) expire(ctx context.Context, tenant domain.Tenant, now time.Time) (Outcome, error) {
	next := tenant
	event := domain.EventEnterFree
	outcome := OutcomeAdvanced

	if phase, ok := e.opts.Schedule.Next(tenant.PhaseIndex); ok {
		next.PhaseIndex++
		next.PhaseStartAt = now
		next.PhaseEndAt = domain.PhaseBoundary(now, phase.Duration)
		next.WarningSentForPhase = false
	} else {
		event = domain.EventLock
		outcome = OutcomeLocked
		lockedAt := now
		next.LockedAt = &lockedAt
		next.LockedReason = e.opts.Schedule.LockReason(tenant.PhaseIndex)
	}

	state, err := e.validator.Apply(ctx, tenant.State, event)
	if err != nil {
		return OutcomeNone, err
	}
	next.State = state

	saved, err := e.repo.UpdateIfVersion(ctx, next, tenant.Version)
	if err != nil {
		return OutcomeNone, fmt.Errorf("saving %s transition: %w", event, err)
	}

	e.logger.InfoContext(ctx, "tenant lifecycle transition",
		"tenant_id", saved.ID,
		"event", event,
		"state", saved.State,
		"phase_index", saved.PhaseIndex,
	)

	// The transition is committed; a lost event must not undo it.
	if err := e.publisher.Publish(ctx, event, saved); err != nil {
		e.logger.WarnContext(ctx, "failed to publish lifecycle event",
			"tenant_id", saved.ID,
			"event", event,
			"error", err,
		)
	}

	return outcome, nil
}

// warn delivers the expiry warning outside any store write and records it only
// once delivery succeeded, so a failed delivery is retried by the next run.
// The tenant is re-read just before dispatch: a listed snapshot may already be
// activated, restarted or warned by an overlapping run.
func (e *LifecycleEngine) warn(ctx context.Context, tenant domain.Tenant) (Outcome, error) {
	current, err := e.repo.GetByID(ctx, tenant.ID)
	if err != nil {
		return OutcomeNone, fmt.Errorf("re-reading tenant before warning: %w", err)
	}
	if current.State != tenant.State || current.WarningSentForPhase ||
		current.PhaseIndex != tenant.PhaseIndex || !current.PhaseStartAt.Equal(tenant.PhaseStartAt) {
		e.logger.DebugContext(ctx, "tenant changed before warning, skipped",
			"tenant_id", tenant.ID,
			"state", current.State,
		)
		return OutcomeNone, nil
	}

	kind := e.opts.Schedule.WarningKind(current.PhaseIndex)

	sendCtx, cancel := context.WithTimeout(ctx, e.opts.NotifyTimeout)
	err = e.notifier.Send(sendCtx, kind, current)
	cancel()
	if err != nil {
		return OutcomeNone, &domain.DeliveryError{Kind: kind, TenantID: tenant.ID, Err: err}
	}

	next := current
	next.WarningSentForPhase = true
	if _, err := e.repo.UpdateIfVersion(ctx, next, current.Version); err != nil {
		return OutcomeNone, fmt.Errorf("recording %s warning: %w", kind, err)
	}

	e.logger.InfoContext(ctx, "tenant expiry warning sent",
		"tenant_id", tenant.ID,
		"kind", kind,
		"phase_index", tenant.PhaseIndex,
	)
	return OutcomeWarned, nil
}

// RunOnce evaluates every non-terminal tenant at now. Tenants are evaluated
// independently; a failing tenant is recorded in the report and never aborts
// the batch. Only failing to list tenants returns an error.
func (e *LifecycleEngine) RunOnce(ctx context.Context, now time.Time) (RunReport, error) {
	tenants, err := e.repo.List(ctx, domain.ListFilter{
		States: []domain.State{domain.StateTrial, domain.StateFree},
	})
	if err != nil {
		return RunReport{}, fmt.Errorf("listing tenants: %w", err)
	}

	var (
		mu     sync.Mutex
		report RunReport
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)

	for _, tenant := range tenants {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			outcome, err := e.evaluateWithRetry(gctx, tenant, now)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				report.Failures = append(report.Failures, Failure{TenantID: tenant.ID, Err: err})
				e.logger.ErrorContext(gctx, "tenant evaluation failed",
					"tenant_id", tenant.ID,
					"error", err,
				)
				return nil
			}
			switch outcome {
			case OutcomeWarned:
				report.Warned++
			case OutcomeAdvanced:
				report.Transitioned++
			case OutcomeLocked:
				report.Locked++
			}
			return nil
		})
	}
	_ = g.Wait()

	e.logger.InfoContext(ctx, "lifecycle run finished",
		"tenants", len(tenants),
		"warned", report.Warned,
		"transitioned", report.Transitioned,
		"locked", report.Locked,
		"failures", len(report.Failures),
	)

	return report, nil
}

// evaluateWithRetry retries transient store errors and lost optimistic races,
// re-reading the tenant first so every attempt decides on fresh state.
func (e *LifecycleEngine) evaluateWithRetry(ctx context.Context, tenant domain.Tenant, now time.Time) (Outcome, error) {
	attempt := 0
	operation := func() (Outcome, error) {
		current := tenant
		if attempt > 0 {
			fresh, err := e.repo.GetByID(ctx, tenant.ID)
			if err != nil {
				return OutcomeNone, retryable(err)
			}
			current = fresh
		}
		attempt++

		outcome, err := e.Evaluate(ctx, current, now)
		if err != nil {
			return OutcomeNone, retryable(err)
		}
		return outcome, nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.opts.RetryInterval

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(e.opts.MaxAttempts),
	)
}

// retryable marks every error except transient store failures and version
// conflicts as permanent for the backoff loop.
func retryable(err error) error {
	var transient *domain.TransientStoreError
	if errors.As(err, &transient) || errors.Is(err, domain.ErrVersionConflict) {
		return err
	}
	return backoff.Permanent(err)
}
