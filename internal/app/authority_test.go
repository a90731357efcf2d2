package app_test

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/neomorfeo/tenantclock/internal/app"
	"github.com/neomorfeo/tenantclock/internal/domain"
)

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestAuthority(repo domain.TokenRepository, clock *fakeClock) *app.TokenAuthority {
	return app.NewTokenAuthority(repo, app.AuthorityOptions{
		Clock:  clock.Now,
		Logger: slog.New(slog.DiscardHandler),
	})
}

var urlSafe = regexp.MustCompile(`^[A-Za-z0-9_-]{43}$`)

func TestScenarioD_IssueConsumeExpire(t *testing.T) {
	repo := newFakeTokenRepo()
	clock := &fakeClock{now: epoch}
	authority := newTestAuthority(repo, clock)
	ctx := context.Background()

	issued, err := authority.IssueToken(ctx, "C1", "U1", domain.PurposeSubscriptionManagement, 0)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if !issued.ExpiresAt.Equal(epoch.Add(72 * time.Hour)) {
		t.Errorf("ExpiresAt = %v, want now+72h", issued.ExpiresAt)
	}
	if !urlSafe.MatchString(issued.Value) {
		t.Errorf("token %q is not 43 URL-safe characters", issued.Value)
	}

	clock.Advance(time.Hour)
	grant, err := authority.ValidateAndConsumeToken(ctx, issued.Value, "U1")
	if err != nil {
		t.Fatalf("first consume: %v", err)
	}
	want := domain.Grant{TenantID: "C1", SubjectID: "U1", Purpose: domain.PurposeSubscriptionManagement}
	if grant != want {
		t.Errorf("grant = %+v, want %+v", grant, want)
	}

	stored, _ := repo.Get(ctx, issued.Value)
	if !stored.Used || stored.UsedBy != "U1" || stored.UsedAt == nil || !stored.UsedAt.Equal(epoch.Add(time.Hour)) {
		t.Errorf("stored token = %+v, want used by U1 at now+1h", stored)
	}
	if !stored.CreatedAt.Equal(epoch) || !stored.ExpiresAt.Equal(epoch.Add(72*time.Hour)) {
		t.Error("consumption must not touch createdAt/expiresAt")
	}

	if _, err := authority.ValidateAndConsumeToken(ctx, issued.Value, "U1"); !errors.Is(err, domain.ErrTokenAlreadyUsed) {
		t.Errorf("second consume: expected ErrTokenAlreadyUsed, got %v", err)
	}

	second, err := authority.IssueToken(ctx, "C1", "U1", domain.PurposeSubscriptionManagement, 0)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	clock.Advance(73 * time.Hour)
	if _, err := authority.ValidateAndConsumeToken(ctx, second.Value, "U1"); !errors.Is(err, domain.ErrTokenExpired) {
		t.Errorf("expired consume: expected ErrTokenExpired, got %v", err)
	}
}

func TestValidateAndConsume_ExpiredEvenIfUsed(t *testing.T) {
	repo := newFakeTokenRepo()
	clock := &fakeClock{now: epoch}
	authority := newTestAuthority(repo, clock)
	ctx := context.Background()

	issued, _ := authority.IssueToken(ctx, "C1", "U1", domain.PurposeSubscriptionManagement, time.Hour)
	if _, err := authority.ValidateAndConsumeToken(ctx, issued.Value, "U1"); err != nil {
		t.Fatalf("consume: %v", err)
	}

	clock.Advance(2 * time.Hour)
	if _, err := authority.ValidateAndConsumeToken(ctx, issued.Value, "U1"); !errors.Is(err, domain.ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestValidateAndConsume_ExactExpiryStillValid(t *testing.T) {
	clock := &fakeClock{now: epoch}
	authority := newTestAuthority(newFakeTokenRepo(), clock)
	ctx := context.Background()

	issued, _ := authority.IssueToken(ctx, "C1", "U1", domain.PurposeSubscriptionManagement, time.Hour)
	clock.Advance(time.Hour)

	if _, err := authority.ValidateAndConsumeToken(ctx, issued.Value, "U1"); err != nil {
		t.Errorf("consume at expiresAt: %v, want success", err)
	}
}

func TestValidateAndConsume_NotFound(t *testing.T) {
	authority := newTestAuthority(newFakeTokenRepo(), &fakeClock{now: epoch})

	for _, value := range []string{"", "does-not-exist"} {
		if _, err := authority.ValidateAndConsumeToken(context.Background(), value, "U1"); !errors.Is(err, domain.ErrTokenNotFound) {
			t.Errorf("value %q: expected ErrTokenNotFound, got %v", value, err)
		}
	}
}

func TestValidateAndConsume_ConcurrentExactlyOnce(t *testing.T) {
	repo := newFakeTokenRepo()
	authority := newTestAuthority(repo, &fakeClock{now: epoch})
	ctx := context.Background()

	issued, err := authority.IssueToken(ctx, "C1", "U1", domain.PurposeSubscriptionManagement, 0)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	const callers = 32
	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		successes   int
		alreadyUsed int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := authority.ValidateAndConsumeToken(ctx, issued.Value, "U1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, domain.ErrTokenAlreadyUsed):
				alreadyUsed++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || alreadyUsed != callers-1 {
		t.Errorf("successes = %d, alreadyUsed = %d; want 1 and %d", successes, alreadyUsed, callers-1)
	}
}

func TestIssueToken_RetriesCollisions(t *testing.T) {
	repo := newFakeTokenRepo()
	repo.collisions = 2
	authority := newTestAuthority(repo, &fakeClock{now: epoch})

	if _, err := authority.IssueToken(context.Background(), "C1", "U1", domain.PurposeSubscriptionManagement, 0); err != nil {
		t.Fatalf("IssueToken after two collisions: %v", err)
	}
	if len(repo.tokens) != 1 {
		t.Errorf("stored %d tokens, want 1", len(repo.tokens))
	}
}

func TestIssueToken_SurfacesPersistentCollision(t *testing.T) {
	repo := newFakeTokenRepo()
	repo.collisions = 10
	authority := newTestAuthority(repo, &fakeClock{now: epoch})

	_, err := authority.IssueToken(context.Background(), "C1", "U1", domain.PurposeSubscriptionManagement, 0)
	if !errors.Is(err, domain.ErrTokenExists) {
		t.Errorf("expected ErrTokenExists, got %v", err)
	}
}

func TestIssueToken_InvalidArguments(t *testing.T) {
	authority := newTestAuthority(newFakeTokenRepo(), &fakeClock{now: epoch})
	ctx := context.Background()

	cases := []struct {
		tenant, subject string
		purpose         domain.Purpose
	}{
		{"", "U1", domain.PurposeSubscriptionManagement},
		{"C1", "", domain.PurposeSubscriptionManagement},
		{"C1", "U1", "delete_everything"},
	}
	for _, tc := range cases {
		if _, err := authority.IssueToken(ctx, tc.tenant, tc.subject, tc.purpose, 0); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("IssueToken(%q, %q, %q): expected ErrInvalidArgument, got %v", tc.tenant, tc.subject, tc.purpose, err)
		}
	}
}

func TestIssueToken_RejectsTTLAboveCap(t *testing.T) {
	repo := newFakeTokenRepo()
	authority := newTestAuthority(repo, &fakeClock{now: epoch})
	ctx := context.Background()

	if _, err := authority.IssueToken(ctx, "C1", "U1", domain.PurposeSubscriptionManagement, domain.MaxTokenTTL+time.Second); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
	issued, err := authority.IssueToken(ctx, "C1", "U1", domain.PurposeSubscriptionManagement, domain.MaxTokenTTL)
	if err != nil {
		t.Fatalf("IssueToken at the cap: %v", err)
	}
	if !issued.ExpiresAt.Equal(epoch.Add(domain.MaxTokenTTL)) {
		t.Errorf("ExpiresAt = %v, want %v", issued.ExpiresAt, epoch.Add(domain.MaxTokenTTL))
	}
}

func TestIssueToken_ValuesAreUnique(t *testing.T) {
	authority := newTestAuthority(newFakeTokenRepo(), &fakeClock{now: epoch})
	seen := make(map[string]bool)
	for range 100 {
		issued, err := authority.IssueToken(context.Background(), "C1", "U1", domain.PurposeSubscriptionManagement, 0)
		if err != nil {
			t.Fatalf("IssueToken: %v", err)
		}
		if seen[issued.Value] {
			t.Fatalf("duplicate token %q", issued.Value)
		}
		seen[issued.Value] = true
	}
}
