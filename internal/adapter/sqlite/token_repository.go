package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/neomorfeo/tenantclock/internal/domain"
)

var _ domain.TokenRepository = (*TokenRepository)(nil)

const tokenColumns = `value, tenant_id, subject_id, purpose, created_at, expires_at, used, used_at, used_by`

// TokenRepository implements domain.TokenRepository using SQLite.
type TokenRepository struct {
	db *sql.DB
}

// NewTokenRepository wraps a prepared database (see Open and Prepare).
func NewTokenRepository(db *sql.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

func (r *TokenRepository) InsertIfAbsent(ctx context.Context, t domain.Token) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO tokens (`+tokenColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, 0, NULL, '')
		 ON CONFLICT (value) DO NOTHING`,
		t.Value, t.TenantID, t.SubjectID, string(t.Purpose),
		formatTime(t.CreatedAt), formatTime(t.ExpiresAt),
	)
	if err != nil {
		return storeError("inserting token", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return storeError("checking rows affected", err)
	}
	if rows == 0 {
		return domain.ErrTokenExists
	}
	return nil
}

func (r *TokenRepository) Get(ctx context.Context, value string) (domain.Token, error) {
	var t domain.Token
	var purpose, created, expires string
	var usedAt sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE value = ?`, value,
	).Scan(&t.Value, &t.TenantID, &t.SubjectID, &purpose, &created, &expires, &t.Used, &usedAt, &t.UsedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Token{}, domain.ErrTokenNotFound
	}
	if err != nil {
		return domain.Token{}, storeError("reading token", err)
	}

	t.Purpose = domain.Purpose(purpose)
	if t.CreatedAt, err = parseTime(created); err != nil {
		return domain.Token{}, err
	}
	if t.ExpiresAt, err = parseTime(expires); err != nil {
		return domain.Token{}, err
	}
	if t.UsedAt, err = parseNullTime(usedAt); err != nil {
		return domain.Token{}, err
	}
	return t, nil
}

// MarkUsed is the single conditional write behind token consumption: of any
// number of concurrent callers exactly one sees a row change.
func (r *TokenRepository) MarkUsed(ctx context.Context, value string, usedAt time.Time, usedBy string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE tokens SET used = 1, used_at = ?, used_by = ?
		 WHERE value = ? AND used = 0`,
		formatTime(usedAt), usedBy, value,
	)
	if err != nil {
		return storeError("consuming token", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return storeError("checking rows affected", err)
	}
	if rows == 1 {
		return nil
	}

	var exists int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM tokens WHERE value = ?`, value).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrTokenNotFound
	}
	if err != nil {
		return storeError("checking token", err)
	}
	return domain.ErrTokenAlreadyUsed
}

// PurgeExpired deletes tokens that expired before the cutoff and returns how
// many were removed.
func (r *TokenRepository) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM tokens WHERE expires_at < ?`, formatTime(before))
	if err != nil {
		return 0, storeError("purging tokens", err)
	}
	return result.RowsAffected()
}
