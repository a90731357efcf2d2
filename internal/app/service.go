package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/neomorfeo/tenantclock/internal/domain"
)

// TenantService handles onboarding and administrative corrections of tenants.
type TenantService struct {
	repo      domain.TenantRepository
	publisher domain.EventPublisher
	validator domain.TransitionValidator
	schedule  domain.Schedule
	clock     Clock
	logger    *slog.Logger
}

// NewTenantService creates a service with the given adapters.
func NewTenantService(
	repo domain.TenantRepository,
	publisher domain.EventPublisher,
	validator domain.TransitionValidator,
	schedule domain.Schedule,
	clock Clock,
	logger *slog.Logger,
) *TenantService {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TenantService{
		repo:      repo,
		publisher: publisher,
		validator: validator,
		schedule:  schedule,
		clock:     clock,
		logger:    logger,
	}
}

// Onboard creates a tenant at the start of its trial.
func (s *TenantService) Onboard(ctx context.Context, name, ownerID, ownerEmail string) (domain.Tenant, error) {
	if name == "" || ownerID == "" {
		return domain.Tenant{}, fmt.Errorf("%w: name and owner are required", domain.ErrInvalidArgument)
	}

	tenant := domain.NewTenant(uuid.NewString(), name, ownerID, ownerEmail, s.schedule, s.clock())

	if err := s.repo.Create(ctx, tenant); err != nil {
		return domain.Tenant{}, fmt.Errorf("creating tenant: %w", err)
	}
	tenant.Version = 1

	s.logger.InfoContext(ctx, "tenant onboarded", "tenant_id", tenant.ID, "phase_end_at", tenant.PhaseEndAt)
	return tenant, nil
}

// GetByID returns a tenant by its unique identifier.
func (s *TenantService) GetByID(ctx context.Context, id string) (domain.Tenant, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns tenants matching the given filter.
func (s *TenantService) List(ctx context.Context, filter domain.ListFilter) ([]domain.Tenant, error) {
	return s.repo.List(ctx, filter)
}

// AvailableEvents lists the lifecycle events a tenant in state may still take.
func (s *TenantService) AvailableEvents(state domain.State) []domain.Event {
	return s.validator.Available(state)
}

// RestartPhase restarts the tenant's current phase at now. This is the
// administrative correction path, so it also clears the warning flag: the
// engine never infers a reset on its own.
func (s *TenantService) RestartPhase(ctx context.Context, id string) (domain.Tenant, error) {
	tenant, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return domain.Tenant{}, err
	}
	if tenant.State.Terminal() {
		return domain.Tenant{}, &domain.InvalidStateError{
			TenantID: id,
			Reason:   fmt.Sprintf("cannot restart a phase of a %s tenant", tenant.State),
		}
	}
	if err := tenant.Validate(s.schedule); err != nil {
		return domain.Tenant{}, err
	}

	now := s.clock().UTC()
	next := tenant
	next.PhaseStartAt = now
	next.PhaseEndAt = domain.PhaseBoundary(now, s.schedule.Phases[tenant.PhaseIndex].Duration)
	next.WarningSentForPhase = false

	saved, err := s.repo.UpdateIfVersion(ctx, next, tenant.Version)
	if err != nil {
		return domain.Tenant{}, fmt.Errorf("restarting phase: %w", err)
	}

	s.logger.InfoContext(ctx, "tenant phase restarted", "tenant_id", id, "phase_index", saved.PhaseIndex)
	return saved, nil
}

// Activate moves a tenant to the paid ACTIVE state, which the engine never leaves.
// The activation is committed before the event is published; a publish failure
// is logged and does not fail the call.
func (s *TenantService) Activate(ctx context.Context, id string) (domain.Tenant, error) {
	tenant, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return domain.Tenant{}, err
	}

	state, err := s.validator.Apply(ctx, tenant.State, domain.EventActivate)
	if err != nil {
		return domain.Tenant{}, err
	}

	next := tenant
	next.State = state
	next.LockedAt = nil
	next.LockedReason = ""

	saved, err := s.repo.UpdateIfVersion(ctx, next, tenant.Version)
	if err != nil {
		return domain.Tenant{}, fmt.Errorf("activating tenant: %w", err)
	}

	s.logger.InfoContext(ctx, "tenant activated", "tenant_id", id)

	if err := s.publisher.Publish(ctx, domain.EventActivate, saved); err != nil {
		s.logger.WarnContext(ctx, "failed to publish lifecycle event",
			"tenant_id", id,
			"event", domain.EventActivate,
			"error", err,
		)
	}

	return saved, nil
}
