package notify

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/neomorfeo/tenantclock/internal/domain"
)

var _ domain.Notifier = (*WebhookNotifier)(nil)

// Payload is the JSON body posted for every notification.
type Payload struct {
	Kind         string    `json:"kind"`
	TenantID     string    `json:"tenantId"`
	TenantName   string    `json:"tenantName"`
	State        string    `json:"lifecycleState"`
	PhaseIndex   int       `json:"phaseIndex"`
	PhaseEndAt   time.Time `json:"phaseEndAt,omitzero"`
	LockedReason string    `json:"lockedReason,omitempty"`
	OwnerID      string    `json:"ownerId"`
	OwnerEmail   string    `json:"ownerEmail,omitempty"`
	SentAt       time.Time `json:"sentAt"`
}

// WebhookOptions tunes the HTTP client behind the webhook notifier.
type WebhookOptions struct {
	Timeout    time.Duration
	RetryCount int
	RetryWait  time.Duration
}

// WebhookNotifier posts notifications to an HTTP endpoint that owns the
// actual email/SMS delivery.
type WebhookNotifier struct {
	client *resty.Client
	url    string
}

// NewWebhookNotifier creates a notifier posting to url. Server errors and
// transport failures are retried; 4xx responses are not.
func NewWebhookNotifier(url string, opts WebhookOptions) *WebhookNotifier {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = 500 * time.Millisecond
	}

	client := resty.New().
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(opts.RetryWait).
		SetRetryMaxWaitTime(4*opts.RetryWait).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})

	return &WebhookNotifier{client: client, url: url}
}

func (n *WebhookNotifier) Send(ctx context.Context, kind domain.NotificationKind, tenant domain.Tenant) error {
	payload := Payload{
		Kind:         string(kind),
		TenantID:     tenant.ID,
		TenantName:   tenant.Name,
		State:        string(tenant.State),
		PhaseIndex:   tenant.PhaseIndex,
		PhaseEndAt:   tenant.PhaseEndAt,
		LockedReason: tenant.LockedReason,
		OwnerID:      tenant.OwnerID,
		OwnerEmail:   tenant.OwnerEmail,
		SentAt:       time.Now().UTC(),
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", idempotencyKey(kind, tenant)).
		SetBody(payload).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("posting %s webhook: %w", kind, err)
	}
	if resp.IsError() {
		return fmt.Errorf("posting %s webhook: unexpected status %s", kind, resp.Status())
	}
	return nil
}

// idempotencyKey lets the receiver drop duplicates of an at-least-once warning.
// The phase start identifies the phase instance, so a restarted phase gets a
// fresh key.
func idempotencyKey(kind domain.NotificationKind, tenant domain.Tenant) string {
	return string(kind) + ":" + tenant.ID + ":" + strconv.Itoa(tenant.PhaseIndex) +
		":" + strconv.FormatInt(tenant.PhaseStartAt.UnixNano(), 10)
}
