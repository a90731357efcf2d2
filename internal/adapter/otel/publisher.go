package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/tenantclock/internal/domain"
)

// TracingPublisher records a span per published lifecycle event and counts
// committed transitions by event and resulting state.
type TracingPublisher struct {
	next        domain.EventPublisher
	tracer      trace.Tracer
	transitions metric.Int64Counter
}

var _ domain.EventPublisher = (*TracingPublisher)(nil)

// NewTracingPublisher creates an instrumented decorator around the given publisher.
func NewTracingPublisher(next domain.EventPublisher) (*TracingPublisher, error) {
	transitions, err := otel.Meter(tracerName).Int64Counter("tenantclock.lifecycle.transitions",
		metric.WithDescription("Committed lifecycle transitions by event and target state"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating transition counter: %w", err)
	}
	return &TracingPublisher{
		next:        next,
		tracer:      otel.Tracer(tracerName),
		transitions: transitions,
	}, nil
}

func (p *TracingPublisher) Publish(ctx context.Context, event domain.Event, tenant domain.Tenant) error {
	ctx, span := p.tracer.Start(ctx, "EventPublisher.Publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("lifecycle.event", string(event)),
			attribute.String("tenant.id", tenant.ID),
			attribute.String("tenant.lifecycle_state", string(tenant.State)),
			attribute.Int("tenant.phase_index", tenant.PhaseIndex),
		),
	)
	defer span.End()

	// The transition is already committed when Publish is called, so it is
	// counted even if enqueuing the event fails.
	p.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", string(event)),
		attribute.String("state", string(tenant.State)),
	))

	err := p.next.Publish(ctx, event, tenant)
	finish(span, err)
	return err
}
