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

// TracingNotifier wraps a domain.Notifier with a span per delivery and a
// counter of deliveries by kind and outcome.
type TracingNotifier struct {
	next       domain.Notifier
	tracer     trace.Tracer
	deliveries metric.Int64Counter
}

var _ domain.Notifier = (*TracingNotifier)(nil)

// NewTracingNotifier creates an instrumented decorator around the given notifier.
func NewTracingNotifier(next domain.Notifier) (*TracingNotifier, error) {
	deliveries, err := otel.Meter(tracerName).Int64Counter("tenantclock.notifications",
		metric.WithDescription("Notification deliveries by kind and outcome"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating notification counter: %w", err)
	}
	return &TracingNotifier{
		next:       next,
		tracer:     otel.Tracer(tracerName),
		deliveries: deliveries,
	}, nil
}

func (n *TracingNotifier) Send(ctx context.Context, kind domain.NotificationKind, tenant domain.Tenant) error {
	ctx, span := n.tracer.Start(ctx, "Notifier.Send",
		trace.WithAttributes(
			attribute.String("notification.kind", string(kind)),
			attribute.String("tenant.id", tenant.ID),
		),
	)
	defer span.End()

	err := n.next.Send(ctx, kind, tenant)
	finish(span, err)

	outcome := "delivered"
	if err != nil {
		outcome = "failed"
	}
	n.deliveries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("outcome", outcome),
	))
	return err
}
