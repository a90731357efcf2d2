package app_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/neomorfeo/tenantclock/internal/domain"
)

// --- Tenant repository ---

type fakeTenantRepo struct {
	mu      sync.Mutex
	tenants map[string]domain.Tenant

	// failUpdates makes the next n UpdateIfVersion calls fail with a transient error.
	failUpdates int
	updates     int
}

func newFakeTenantRepo() *fakeTenantRepo {
	return &fakeTenantRepo{tenants: make(map[string]domain.Tenant)}
}

func (r *fakeTenantRepo) Create(_ context.Context, t domain.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.Version = 1
	r.tenants[t.ID] = t
	return nil
}

func (r *fakeTenantRepo) GetByID(_ context.Context, id string) (domain.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[id]
	if !ok {
		return domain.Tenant{}, domain.ErrTenantNotFound
	}
	return t, nil
}

func (r *fakeTenantRepo) List(_ context.Context, filter domain.ListFilter) ([]domain.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Tenant, 0, len(r.tenants))
	for _, t := range r.tenants {
		if filter.Matches(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *fakeTenantRepo) UpdateIfVersion(_ context.Context, t domain.Tenant, expected int64) (domain.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpdates > 0 {
		r.failUpdates--
		return domain.Tenant{}, &domain.TransientStoreError{Op: "update tenant", Err: errors.New("database is locked")}
	}
	stored, ok := r.tenants[t.ID]
	if !ok {
		return domain.Tenant{}, domain.ErrTenantNotFound
	}
	if stored.Version != expected {
		return domain.Tenant{}, domain.ErrVersionConflict
	}
	t.Version = expected + 1
	r.tenants[t.ID] = t
	r.updates++
	return t, nil
}

// put stores a tenant as-is, bypassing version bookkeeping.
func (r *fakeTenantRepo) put(t domain.Tenant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.Version == 0 {
		t.Version = 1
	}
	r.tenants[t.ID] = t
}

func (r *fakeTenantRepo) get(id string) domain.Tenant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tenants[id]
}

// --- Token repository ---

type fakeTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]domain.Token

	// collisions makes the next n inserts report an existing value.
	collisions int
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{tokens: make(map[string]domain.Token)}
}

func (r *fakeTokenRepo) InsertIfAbsent(_ context.Context, t domain.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.collisions > 0 {
		r.collisions--
		return domain.ErrTokenExists
	}
	if _, ok := r.tokens[t.Value]; ok {
		return domain.ErrTokenExists
	}
	r.tokens[t.Value] = t
	return nil
}

func (r *fakeTokenRepo) Get(_ context.Context, value string) (domain.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[value]
	if !ok {
		return domain.Token{}, domain.ErrTokenNotFound
	}
	return t, nil
}

func (r *fakeTokenRepo) MarkUsed(_ context.Context, value string, usedAt time.Time, usedBy string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[value]
	if !ok {
		return domain.ErrTokenNotFound
	}
	if t.Used {
		return domain.ErrTokenAlreadyUsed
	}
	t.Used = true
	t.UsedAt = &usedAt
	t.UsedBy = usedBy
	r.tokens[value] = t
	return nil
}

// --- Notifier ---

type sentNotification struct {
	kind     domain.NotificationKind
	tenantID string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
	err  error
}

func (n *recordingNotifier) Send(_ context.Context, kind domain.NotificationKind, t domain.Tenant) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentNotification{kind: kind, tenantID: t.ID})
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// --- Publisher ---

type publishedEvent struct {
	event  domain.Event
	tenant domain.Tenant
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e domain.Event, t domain.Tenant) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, publishedEvent{event: e, tenant: t})
	return nil
}

// --- Validator ---

// tableValidator applies domain.Transitions directly.
type tableValidator struct{}

func (tableValidator) Apply(_ context.Context, current domain.State, event domain.Event) (domain.State, error) {
	for _, t := range domain.Transitions {
		if t.Event == event && t.Src == current {
			return t.Dst, nil
		}
	}
	return "", &domain.TransitionError{Event: event, Current: current}
}

func (tableValidator) Available(current domain.State) []domain.Event {
	var out []domain.Event
	for _, t := range domain.Transitions {
		if t.Src == current && !slices.Contains(out, t.Event) {
			out = append(out, t.Event)
		}
	}
	slices.Sort(out)
	return out
}
