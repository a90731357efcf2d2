package otel_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/trace"

	adapter "github.com/neomorfeo/tenantclock/internal/adapter/otel"
	"github.com/neomorfeo/tenantclock/internal/domain"
)

type mockPublisher struct {
	events []domain.Event
	err    error
}

func (m *mockPublisher) Publish(_ context.Context, e domain.Event, _ domain.Tenant) error {
	m.events = append(m.events, e)
	return m.err
}

func newTestPublisher(t *testing.T, next domain.EventPublisher) *adapter.TracingPublisher {
	t.Helper()
	pub, err := adapter.NewTracingPublisher(next)
	if err != nil {
		t.Fatalf("NewTracingPublisher: %v", err)
	}
	return pub
}

func TestTracingPublisher_Publish_RecordsSpan(t *testing.T) {
	exporter := setupTestTracer(t)
	inner := &mockPublisher{}
	pub := newTestPublisher(t, inner)

	tenant := newTenant("t-1")
	tenant.State = domain.StateFree
	tenant.PhaseIndex = 1
	if err := pub.Publish(context.Background(), domain.EventEnterFree, tenant); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "EventPublisher.Publish" || spans[0].SpanKind != trace.SpanKindProducer {
		t.Errorf("span = %q kind %v", spans[0].Name, spans[0].SpanKind)
	}

	assertAttribute(t, spans[0], "lifecycle.event", "enter_free")
	assertAttribute(t, spans[0], "tenant.id", "t-1")
	assertAttribute(t, spans[0], "tenant.lifecycle_state", "FREE")

	if len(inner.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(inner.events))
	}
}

func TestTracingPublisher_Publish_RecordsError(t *testing.T) {
	exporter := setupTestTracer(t)
	pub := newTestPublisher(t, &mockPublisher{err: errors.New("queue unavailable")})

	if err := pub.Publish(context.Background(), domain.EventLock, newTenant("t-1")); err == nil {
		t.Fatal("expected error")
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("span status = %v, want %v", spans[0].Status.Code, codes.Error)
	}
}

func TestTracingPublisher_CountsTransitions(t *testing.T) {
	setupTestTracer(t)
	reader := setupTestMeter(t)
	pub := newTestPublisher(t, &mockPublisher{})
	ctx := context.Background()

	locked := newTenant("t-1")
	locked.State = domain.StateLocked
	_ = pub.Publish(ctx, domain.EventLock, locked)
	_ = pub.Publish(ctx, domain.EventLock, locked)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collecting metrics: %v", err)
	}

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "tenantclock.lifecycle.transitions" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				if v, ok := dp.Attributes.Value("state"); ok && v.AsString() == "LOCKED" {
					total += dp.Value
				}
			}
		}
	}
	if total != 2 {
		t.Errorf("LOCKED transitions = %d, want 2", total)
	}
}
