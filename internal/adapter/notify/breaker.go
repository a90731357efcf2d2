package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/neomorfeo/tenantclock/internal/domain"
)

// ErrCircuitOpen is returned without calling the wrapped notifier while the
// breaker is open.
var ErrCircuitOpen = errors.New("notification circuit open")

var _ domain.Notifier = (*BreakerNotifier)(nil)

// BreakerOptions configures the circuit breaker around a notifier.
type BreakerOptions struct {
	// MaxRequests is the maximum number of requests allowed in half-open state.
	MaxRequests uint32
	// Interval is the cyclic period of the closed state.
	Interval time.Duration
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
	// FailureThreshold is the number of consecutive failures that trips the breaker.
	FailureThreshold uint32
	// CallTimeout bounds a single delivery.
	CallTimeout time.Duration
	Logger      *slog.Logger
}

// DefaultBreakerOptions returns a sensible default configuration.
func DefaultBreakerOptions() BreakerOptions {
	return BreakerOptions{
		MaxRequests:      1,
		Interval:         time.Minute,
		OpenTimeout:      30 * time.Second,
		FailureThreshold: 5,
		CallTimeout:      10 * time.Second,
	}
}

// BreakerNotifier bounds every delivery with a timeout and stops calling a
// failing downstream until it has had time to recover.
type BreakerNotifier struct {
	next        domain.Notifier
	breaker     *gobreaker.CircuitBreaker[any]
	callTimeout time.Duration
}

// NewBreakerNotifier wraps next with a timeout and a circuit breaker.
func NewBreakerNotifier(next domain.Notifier, opts BreakerOptions) *BreakerNotifier {
	defaults := DefaultBreakerOptions()
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = defaults.FailureThreshold
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaults.CallTimeout
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = defaults.OpenTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	settings := gobreaker.Settings{
		Name:        "notifier",
		MaxRequests: opts.MaxRequests,
		Interval:    opts.Interval,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}

	return &BreakerNotifier{
		next:        next,
		breaker:     gobreaker.NewCircuitBreaker[any](settings),
		callTimeout: opts.CallTimeout,
	}
}

func (n *BreakerNotifier) Send(ctx context.Context, kind domain.NotificationKind, tenant domain.Tenant) error {
	_, err := n.breaker.Execute(func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, n.callTimeout)
		defer cancel()
		return nil, n.next.Send(callCtx, kind, tenant)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s for tenant %s", ErrCircuitOpen, kind, tenant.ID)
	}
	return err
}
