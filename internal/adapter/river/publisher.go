package river

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/riverqueue/river"

	"github.com/neomorfeo/tenantclock/internal/domain"
)

var _ domain.EventPublisher = (*Publisher)(nil)

// EventJobArgs carries a committed lifecycle event and a snapshot of the tenant
// as it was written, so the worker never reads the database.
type EventJobArgs struct {
	Event        string `json:"event"`
	TenantID     string `json:"tenant_id"`
	Name         string `json:"name"`
	State        string `json:"lifecycle_state"`
	PhaseIndex   int    `json:"phase_index"`
	LockedReason string `json:"locked_reason,omitempty"`
	OwnerID      string `json:"owner_id"`
	OwnerEmail   string `json:"owner_email,omitempty"`
}

// Kind returns the unique job type identifier used by River's job routing.
func (EventJobArgs) Kind() string { return "lifecycle.event" }

// Tenant rebuilds the tenant snapshot carried by the job.
func (a EventJobArgs) Tenant() domain.Tenant {
	return domain.Tenant{
		ID:           a.TenantID,
		Name:         a.Name,
		State:        domain.State(a.State),
		PhaseIndex:   a.PhaseIndex,
		LockedReason: a.LockedReason,
		OwnerID:      a.OwnerID,
		OwnerEmail:   a.OwnerEmail,
	}
}

// Client is the River client type parameterized for SQLite (*sql.Tx).
type Client = river.Client[*sql.Tx]

// Publisher implements domain.EventPublisher by enqueuing River jobs.
type Publisher struct {
	client *Client
}

// NewPublisher creates a publisher backed by the given River client.
func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

// Publish enqueues a lifecycle event for asynchronous notification.
func (p *Publisher) Publish(ctx context.Context, event domain.Event, tenant domain.Tenant) error {
	_, err := p.client.Insert(ctx, EventJobArgs{
		Event:        string(event),
		TenantID:     tenant.ID,
		Name:         tenant.Name,
		State:        string(tenant.State),
		PhaseIndex:   tenant.PhaseIndex,
		LockedReason: tenant.LockedReason,
		OwnerID:      tenant.OwnerID,
		OwnerEmail:   tenant.OwnerEmail,
	}, nil)
	if err != nil {
		return fmt.Errorf("enqueuing event job: %w", err)
	}
	return nil
}
