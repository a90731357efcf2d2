package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neomorfeo/tenantclock/internal/domain"
)

var _ domain.TenantRepository = (*TenantRepository)(nil)

const tenantColumns = `id, name, lifecycle_state, phase_index, phase_start_at, phase_end_at,
	warning_sent_for_phase, locked_at, locked_reason, owner_id, owner_email, version, created_at, updated_at`

// TenantRepository implements domain.TenantRepository using SQLite.
type TenantRepository struct {
	db *sql.DB
}

// NewTenantRepository wraps a prepared database (see Open and Prepare).
func NewTenantRepository(db *sql.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

func (r *TenantRepository) Create(ctx context.Context, t domain.Tenant) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tenants (`+tenantColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		t.ID, t.Name, string(t.State), t.PhaseIndex,
		formatTime(t.PhaseStartAt), formatTime(t.PhaseEndAt),
		t.WarningSentForPhase, formatNullTime(t.LockedAt), t.LockedReason,
		t.OwnerID, t.OwnerEmail,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: tenant %s already exists", domain.ErrInvalidArgument, t.ID)
		}
		return storeError("inserting tenant", err)
	}
	return nil
}

func (r *TenantRepository) GetByID(ctx context.Context, id string) (domain.Tenant, error) {
	t, err := scanTenant(r.db.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Tenant{}, domain.ErrTenantNotFound
	}
	if err != nil {
		return domain.Tenant{}, storeError("reading tenant", err)
	}
	return t, nil
}

func (r *TenantRepository) List(ctx context.Context, filter domain.ListFilter) ([]domain.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants`
	var args []any

	if len(filter.States) > 0 {
		placeholders := make([]string, len(filter.States))
		for i, s := range filter.States {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		query += ` WHERE lifecycle_state IN (` + strings.Join(placeholders, ", ") + `)`
	}

	query += ` ORDER BY created_at, id`

	// SQLite only accepts OFFSET after a LIMIT; -1 means unbounded.
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("listing tenants", err)
	}
	defer rows.Close()

	var tenants []domain.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, storeError("scanning tenant row", err)
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("listing tenants", err)
	}
	return tenants, nil
}

// UpdateIfVersion writes every mutable column in one statement guarded by the
// expected version, so concurrent writers cannot interleave partial updates.
func (r *TenantRepository) UpdateIfVersion(ctx context.Context, t domain.Tenant, expectedVersion int64) (domain.Tenant, error) {
	now := time.Now().UTC()

	result, err := r.db.ExecContext(ctx,
		`UPDATE tenants SET
			name = ?, lifecycle_state = ?, phase_index = ?, phase_start_at = ?, phase_end_at = ?,
			warning_sent_for_phase = ?, locked_at = ?, locked_reason = ?, owner_id = ?, owner_email = ?,
			version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		t.Name, string(t.State), t.PhaseIndex, formatTime(t.PhaseStartAt), formatTime(t.PhaseEndAt),
		t.WarningSentForPhase, formatNullTime(t.LockedAt), t.LockedReason, t.OwnerID, t.OwnerEmail,
		formatTime(now), t.ID, expectedVersion,
	)
	if err != nil {
		return domain.Tenant{}, storeError("updating tenant", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return domain.Tenant{}, storeError("checking rows affected", err)
	}
	if rows == 0 {
		return domain.Tenant{}, r.missOrConflict(ctx, t.ID)
	}

	t.Version = expectedVersion + 1
	t.UpdatedAt = now
	return t, nil
}

// missOrConflict tells a missing tenant apart from a stale version after a
// conditional update matched no row.
func (r *TenantRepository) missOrConflict(ctx context.Context, id string) error {
	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM tenants WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrTenantNotFound
	}
	if err != nil {
		return storeError("checking tenant", err)
	}
	return domain.ErrVersionConflict
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTenant(row scanner) (domain.Tenant, error) {
	var t domain.Tenant
	var state, phaseStart, phaseEnd, created, updated string
	var lockedAt sql.NullString

	err := row.Scan(&t.ID, &t.Name, &state, &t.PhaseIndex, &phaseStart, &phaseEnd,
		&t.WarningSentForPhase, &lockedAt, &t.LockedReason, &t.OwnerID, &t.OwnerEmail,
		&t.Version, &created, &updated)
	if err != nil {
		return domain.Tenant{}, err
	}

	t.State = domain.State(state)
	if t.PhaseStartAt, err = parseTime(phaseStart); err != nil {
		return domain.Tenant{}, err
	}
	if t.PhaseEndAt, err = parseTime(phaseEnd); err != nil {
		return domain.Tenant{}, err
	}
	if t.LockedAt, err = parseNullTime(lockedAt); err != nil {
		return domain.Tenant{}, err
	}
	if t.CreatedAt, err = parseTime(created); err != nil {
		return domain.Tenant{}, err
	}
	if t.UpdatedAt, err = parseTime(updated); err != nil {
		return domain.Tenant{}, err
	}
	return t, nil
}
