package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/neomorfeo/tenantclock/internal/domain"
)

var _ domain.TokenRepository = (*TokenStore)(nil)

const keyPrefix = "tenantclock:token:"

// insertScript stores the token hash only when the key is free and sets its
// expiry in the same step.
var insertScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1],
	'tenant_id', ARGV[1], 'subject_id', ARGV[2], 'purpose', ARGV[3],
	'created_at', ARGV[4], 'expires_at', ARGV[5], 'used', '0')
redis.call('PEXPIRE', KEYS[1], ARGV[6])
return 1
`)

// markUsedScript flips used from 0 to 1 atomically: -1 missing, 0 already used, 1 consumed.
var markUsedScript = goredis.NewScript(`
local used = redis.call('HGET', KEYS[1], 'used')
if not used then
	return -1
end
if used == '1' then
	return 0
end
redis.call('HSET', KEYS[1], 'used', '1', 'used_at', ARGV[1], 'used_by', ARGV[2])
return 1
`)

// TokenStore keeps tokens as Redis hashes under tenantclock:token:<value>.
// Keys expire once the token has been expired for longer than the retention.
type TokenStore struct {
	client    goredis.UniversalClient
	retention time.Duration
}

// NewTokenStore creates a token store on client.
func NewTokenStore(client goredis.UniversalClient, retention time.Duration) *TokenStore {
	if retention < 0 {
		retention = 0
	}
	return &TokenStore{client: client, retention: retention}
}

// Connect parses a redis:// URL and verifies the server answers.
func Connect(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

func key(value string) string {
	return keyPrefix + value
}

func (s *TokenStore) InsertIfAbsent(ctx context.Context, t domain.Token) error {
	ttl := t.ExpiresAt.Sub(t.CreatedAt) + s.retention
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}

	inserted, err := insertScript.Run(ctx, s.client, []string{key(t.Value)},
		t.TenantID, t.SubjectID, string(t.Purpose),
		formatTime(t.CreatedAt), formatTime(t.ExpiresAt),
		ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return transient("inserting token", err)
	}
	if inserted == 0 {
		return domain.ErrTokenExists
	}
	return nil
}

func (s *TokenStore) Get(ctx context.Context, value string) (domain.Token, error) {
	fields, err := s.client.HGetAll(ctx, key(value)).Result()
	if err != nil {
		return domain.Token{}, transient("reading token", err)
	}
	if len(fields) == 0 {
		return domain.Token{}, domain.ErrTokenNotFound
	}
	return decode(value, fields)
}

func (s *TokenStore) MarkUsed(ctx context.Context, value string, usedAt time.Time, usedBy string) error {
	result, err := markUsedScript.Run(ctx, s.client, []string{key(value)},
		formatTime(usedAt), usedBy,
	).Int64()
	if err != nil {
		return transient("consuming token", err)
	}

	switch result {
	case 1:
		return nil
	case 0:
		return domain.ErrTokenAlreadyUsed
	default:
		return domain.ErrTokenNotFound
	}
}

func decode(value string, fields map[string]string) (domain.Token, error) {
	t := domain.Token{
		Value:     value,
		TenantID:  fields["tenant_id"],
		SubjectID: fields["subject_id"],
		Purpose:   domain.Purpose(fields["purpose"]),
		Used:      fields["used"] == "1",
		UsedBy:    fields["used_by"],
	}

	var err error
	if t.CreatedAt, err = parseTime(fields["created_at"]); err != nil {
		return domain.Token{}, err
	}
	if t.ExpiresAt, err = parseTime(fields["expires_at"]); err != nil {
		return domain.Token{}, err
	}
	if raw, ok := fields["used_at"]; ok {
		usedAt, err := parseTime(raw)
		if err != nil {
			return domain.Token{}, err
		}
		t.UsedAt = &usedAt
	}
	return t, nil
}

func formatTime(t time.Time) string {
	return strconv.FormatInt(t.UTC().UnixNano(), 10)
}

func parseTime(s string) (time.Time, error) {
	nanos, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored time %q: %w", s, err)
	}
	return time.Unix(0, nanos).UTC(), nil
}

// transient wraps Redis command failures as retryable store errors.
func transient(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &domain.TransientStoreError{Op: op, Err: err}
}
