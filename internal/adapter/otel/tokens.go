package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/tenantclock/internal/domain"
)

// TracingTokenRepository wraps a domain.TokenRepository with tracing. Token
// values are credentials and never become span attributes.
type TracingTokenRepository struct {
	next   domain.TokenRepository
	tracer trace.Tracer
}

var _ domain.TokenRepository = (*TracingTokenRepository)(nil)

// NewTracingTokenRepository creates a tracing decorator around the given token store.
func NewTracingTokenRepository(next domain.TokenRepository) *TracingTokenRepository {
	return &TracingTokenRepository{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (r *TracingTokenRepository) InsertIfAbsent(ctx context.Context, token domain.Token) error {
	ctx, span := r.tracer.Start(ctx, "TokenRepository.InsertIfAbsent",
		trace.WithAttributes(
			attribute.String("tenant.id", token.TenantID),
			attribute.String("token.purpose", string(token.Purpose)),
		),
	)
	defer span.End()

	err := r.next.InsertIfAbsent(ctx, token)
	finish(span, err)
	return err
}

func (r *TracingTokenRepository) Get(ctx context.Context, value string) (domain.Token, error) {
	ctx, span := r.tracer.Start(ctx, "TokenRepository.Get")
	defer span.End()

	token, err := r.next.Get(ctx, value)
	finish(span, err)
	if err == nil {
		span.SetAttributes(
			attribute.String("tenant.id", token.TenantID),
			attribute.Bool("token.used", token.Used),
		)
	}
	return token, err
}

func (r *TracingTokenRepository) MarkUsed(ctx context.Context, value string, usedAt time.Time, usedBy string) error {
	ctx, span := r.tracer.Start(ctx, "TokenRepository.MarkUsed",
		trace.WithAttributes(attribute.String("token.used_by", usedBy)),
	)
	defer span.End()

	err := r.next.MarkUsed(ctx, value, usedAt, usedBy)
	finish(span, err)
	return err
}
