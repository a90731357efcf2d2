package app

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/neomorfeo/tenantclock/internal/domain"
)

// tokenBytes is the amount of randomness behind each token value (256 bits).
const tokenBytes = 32

// Clock returns the current time. Injected so tests can pin it.
type Clock func() time.Time

// IssuedToken is handed back to the caller for embedding in a link.
type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// AuthorityOptions tunes the token authority. Zero values fall back to defaults.
type AuthorityOptions struct {
	DefaultTTL       time.Duration
	MaxIssueAttempts int
	Clock            Clock
	Logger           *slog.Logger
}

// TokenAuthority issues and consumes single-use, time-boxed capability tokens.
type TokenAuthority struct {
	repo   domain.TokenRepository
	opts   AuthorityOptions
	logger *slog.Logger
}

// NewTokenAuthority creates a token authority backed by repo.
func NewTokenAuthority(repo domain.TokenRepository, opts AuthorityOptions) *TokenAuthority {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = domain.DefaultTokenTTL
	}
	if opts.MaxIssueAttempts <= 0 {
		opts.MaxIssueAttempts = 3
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenAuthority{repo: repo, opts: opts, logger: logger}
}

// IssueToken creates a token letting subjectID act on tenantID for purpose
// until now+ttl. A non-positive ttl uses the default.
func (a *TokenAuthority) IssueToken(ctx context.Context, tenantID, subjectID string, purpose domain.Purpose, ttl time.Duration) (IssuedToken, error) {
	if tenantID == "" || subjectID == "" {
		return IssuedToken{}, fmt.Errorf("%w: tenant and subject are required", domain.ErrInvalidArgument)
	}
	if !purpose.Valid() {
		return IssuedToken{}, fmt.Errorf("%w: unknown purpose %q", domain.ErrInvalidArgument, purpose)
	}
	if ttl > domain.MaxTokenTTL {
		return IssuedToken{}, fmt.Errorf("%w: ttl %s exceeds %s", domain.ErrInvalidArgument, ttl, domain.MaxTokenTTL)
	}
	if ttl <= 0 {
		ttl = a.opts.DefaultTTL
	}

	now := a.opts.Clock().UTC()
	for attempt := 1; attempt <= a.opts.MaxIssueAttempts; attempt++ {
		value, err := newTokenValue()
		if err != nil {
			return IssuedToken{}, fmt.Errorf("generating token value: %w", err)
		}

		token := domain.Token{
			Value:     value,
			TenantID:  tenantID,
			SubjectID: subjectID,
			Purpose:   purpose,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		}

		err = a.repo.InsertIfAbsent(ctx, token)
		if errors.Is(err, domain.ErrTokenExists) {
			a.logger.WarnContext(ctx, "token value collision, regenerating", "attempt", attempt)
			continue
		}
		if err != nil {
			return IssuedToken{}, fmt.Errorf("storing token: %w", err)
		}

		a.logger.InfoContext(ctx, "token issued",
			"tenant_id", tenantID,
			"subject_id", subjectID,
			"purpose", purpose,
			"expires_at", token.ExpiresAt,
		)
		return IssuedToken{Value: value, ExpiresAt: token.ExpiresAt}, nil
	}

	return IssuedToken{}, fmt.Errorf("issuing token after %d attempts: %w", a.opts.MaxIssueAttempts, domain.ErrTokenExists)
}

// ValidateAndConsumeToken spends the token on behalf of actingSubjectID and
// returns what it authorizes. Exactly one of any number of concurrent callers
// succeeds; the rest get ErrTokenAlreadyUsed. The caller checks that the
// purpose matches the requested action.
func (a *TokenAuthority) ValidateAndConsumeToken(ctx context.Context, value, actingSubjectID string) (domain.Grant, error) {
	grant, err := a.consume(ctx, value, actingSubjectID)
	if err != nil {
		if domain.IsTokenError(err) {
			a.logger.InfoContext(ctx, "token rejected", "reason", err.Error(), "acting_subject_id", actingSubjectID)
		}
		return domain.Grant{}, err
	}

	a.logger.InfoContext(ctx, "token consumed",
		"tenant_id", grant.TenantID,
		"purpose", grant.Purpose,
		"acting_subject_id", actingSubjectID,
	)
	return grant, nil
}

func (a *TokenAuthority) consume(ctx context.Context, value, actingSubjectID string) (domain.Grant, error) {
	if value == "" {
		return domain.Grant{}, domain.ErrTokenNotFound
	}
	if actingSubjectID == "" {
		return domain.Grant{}, fmt.Errorf("%w: acting subject is required", domain.ErrInvalidArgument)
	}

	token, err := a.repo.Get(ctx, value)
	if err != nil {
		return domain.Grant{}, err
	}
	if subtle.ConstantTimeCompare([]byte(token.Value), []byte(value)) != 1 {
		return domain.Grant{}, domain.ErrTokenNotFound
	}

	now := a.opts.Clock().UTC()
	if token.Expired(now) {
		return domain.Grant{}, domain.ErrTokenExpired
	}
	if token.Used {
		return domain.Grant{}, domain.ErrTokenAlreadyUsed
	}

	if err := a.repo.MarkUsed(ctx, value, now, actingSubjectID); err != nil {
		return domain.Grant{}, err
	}
	return token.Grant(), nil
}

// newTokenValue returns 256 random bits encoded for use in a URL.
func newTokenValue() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
