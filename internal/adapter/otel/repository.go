package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/tenantclock/internal/domain"
)

const tracerName = "github.com/neomorfeo/tenantclock/internal/adapter/otel"

// finish records err on the span, if any.
func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// TracingRepository wraps a domain.TenantRepository with a client span per
// call and counts lost optimistic-concurrency races.
type TracingRepository struct {
	next      domain.TenantRepository
	tracer    trace.Tracer
	conflicts metric.Int64Counter
}

var _ domain.TenantRepository = (*TracingRepository)(nil)

// NewTracingRepository creates an instrumented decorator around the given repository.
func NewTracingRepository(next domain.TenantRepository) (*TracingRepository, error) {
	conflicts, err := otel.Meter(tracerName).Int64Counter("tenantclock.store.version_conflicts",
		metric.WithDescription("Conditional tenant writes rejected because the stored version moved"),
		metric.WithUnit("{conflict}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating conflict counter: %w", err)
	}
	return &TracingRepository{
		next:      next,
		tracer:    otel.Tracer(tracerName),
		conflicts: conflicts,
	}, nil
}

func (r *TracingRepository) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, "TenantRepository."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

func tenantAttributes(t domain.Tenant) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("tenant.id", t.ID),
		attribute.String("tenant.lifecycle_state", string(t.State)),
		attribute.Int("tenant.phase_index", t.PhaseIndex),
	}
}

func (r *TracingRepository) Create(ctx context.Context, tenant domain.Tenant) error {
	ctx, span := r.start(ctx, "Create", tenantAttributes(tenant)...)
	defer span.End()

	err := r.next.Create(ctx, tenant)
	finish(span, err)
	return err
}

func (r *TracingRepository) GetByID(ctx context.Context, id string) (domain.Tenant, error) {
	ctx, span := r.start(ctx, "GetByID", attribute.String("tenant.id", id))
	defer span.End()

	tenant, err := r.next.GetByID(ctx, id)
	if errors.Is(err, domain.ErrTenantNotFound) {
		span.SetAttributes(attribute.Bool("tenant.found", false))
		return tenant, err
	}
	finish(span, err)
	if err == nil {
		span.SetAttributes(
			attribute.String("tenant.lifecycle_state", string(tenant.State)),
			attribute.Int64("tenant.version", tenant.Version),
		)
	}
	return tenant, err
}

func (r *TracingRepository) List(ctx context.Context, filter domain.ListFilter) ([]domain.Tenant, error) {
	states := make([]string, 0, len(filter.States))
	for _, s := range filter.States {
		states = append(states, string(s))
	}

	ctx, span := r.start(ctx, "List",
		attribute.StringSlice("filter.states", states),
		attribute.Int("filter.limit", filter.Limit),
		attribute.Int("filter.offset", filter.Offset),
	)
	defer span.End()

	tenants, err := r.next.List(ctx, filter)
	finish(span, err)
	span.SetAttributes(attribute.Int("result.count", len(tenants)))
	return tenants, err
}

// UpdateIfVersion treats a version conflict as a normal outcome of
// concurrent writers: it is counted and noted on the span, not flagged as an
// error.
func (r *TracingRepository) UpdateIfVersion(ctx context.Context, tenant domain.Tenant, expectedVersion int64) (domain.Tenant, error) {
	attrs := append(tenantAttributes(tenant), attribute.Int64("tenant.expected_version", expectedVersion))
	ctx, span := r.start(ctx, "UpdateIfVersion", attrs...)
	defer span.End()

	saved, err := r.next.UpdateIfVersion(ctx, tenant, expectedVersion)
	switch {
	case errors.Is(err, domain.ErrVersionConflict):
		span.SetAttributes(attribute.Bool("tenant.version_conflict", true))
		r.conflicts.Add(ctx, 1, metric.WithAttributes(
			attribute.String("state", string(tenant.State)),
		))
	case err != nil:
		finish(span, err)
	default:
		span.SetAttributes(attribute.Int64("tenant.version", saved.Version))
	}
	return saved, err
}
