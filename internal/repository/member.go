package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/memberhub/backend/internal/domain"
)

const memberColumns = `id, email, name, role, membership_level, status, membership_expires_at,
	external_subscription_id, external_customer_id, cancel_at_period_end, created_at, updated_at`

// MemberRepository handles database operations for member profiles.
type MemberRepository struct {
	db *pgxpool.Pool
}

// NewMemberRepository creates a new MemberRepository.
func NewMemberRepository(db *pgxpool.Pool) *MemberRepository {
	return &MemberRepository{db: db}
}

func scanMember(row pgx.Row) (*domain.MemberProfile, error) {
	var m domain.MemberProfile
	err := row.Scan(
		&m.ID, &m.Email, &m.Name, &m.Role, &m.Level, &m.Status, &m.ExpiresAt,
		&m.SubscriptionID, &m.CustomerID, &m.CancelAtPeriodEnd, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Create inserts a new member. A duplicate email yields domain.ErrDuplicate.
func (r *MemberRepository) Create(ctx context.Context, m *domain.MemberProfile) error {
	query := `
		INSERT INTO members (id, email, name, role, membership_level, status, membership_expires_at,
			external_subscription_id, external_customer_id, cancel_at_period_end, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.Exec(ctx, query,
		m.ID, m.Email, m.Name, m.Role, m.Level, m.Status, m.ExpiresAt,
		m.SubscriptionID, m.CustomerID, m.CancelAtPeriodEnd, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("member %s: %w", m.Email, domain.ErrDuplicate)
		}
		return fmt.Errorf("failed to create member: %w", err)
	}
	return nil
}

// FindByID returns a member by ID, or nil when absent.
func (r *MemberRepository) FindByID(ctx context.Context, id string) (*domain.MemberProfile, error) {
	query := `SELECT ` + memberColumns + ` FROM members WHERE id = $1`
	m, err := scanMember(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find member: %w", err)
	}
	return m, nil
}

// FindBySubscriptionID returns the member holding the given external subscription.
func (r *MemberRepository) FindBySubscriptionID(ctx context.Context, subscriptionID string) (*domain.MemberProfile, error) {
	query := `SELECT ` + memberColumns + ` FROM members WHERE external_subscription_id = $1 LIMIT 1`
	m, err := scanMember(r.db.QueryRow(ctx, query, subscriptionID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find member by subscription: %w", err)
	}
	return m, nil
}

// ListWithSubscription returns every member that references an external subscription.
func (r *MemberRepository) ListWithSubscription(ctx context.Context) ([]*domain.MemberProfile, error) {
	query := `SELECT ` + memberColumns + ` FROM members
		WHERE external_subscription_id IS NOT NULL ORDER BY created_at`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscribed members: %w", err)
	}
	defer rows.Close()

	var members []*domain.MemberProfile
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list subscribed members: %w", err)
	}
	return members, nil
}

const updateStateQuery = `
	UPDATE members
	SET status = $2, membership_expires_at = $3, cancel_at_period_end = $4,
		external_subscription_id = $5, external_customer_id = $6, updated_at = NOW()
	WHERE id = $1
`

// UpdateState writes the whole membership tuple in one statement.
func (r *MemberRepository) UpdateState(ctx context.Context, id string, s domain.MembershipState) error {
	tag, err := r.db.Exec(ctx, updateStateQuery,
		id, s.Status, s.ExpiresAt, s.CancelAtPeriodEnd, s.SubscriptionID, s.CustomerID,
	)
	if err != nil {
		return fmt.Errorf("failed to update member state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to update member state: member %s not found", id)
	}
	return nil
}

// UpdateLevel changes a member's level.
func (r *MemberRepository) UpdateLevel(ctx context.Context, id string, level domain.Level) error {
	_, err := r.db.Exec(ctx,
		`UPDATE members SET membership_level = $2, updated_at = NOW() WHERE id = $1`, id, level)
	if err != nil {
		return fmt.Errorf("failed to update member level: %w", err)
	}
	return nil
}

// ApplyPayment writes the membership tuple and inserts rec in one transaction.
// The ledger insert is skipped when a row for the same (user, subscription)
// already exists; inserted reports whether rec was written.
func (r *MemberRepository) ApplyPayment(ctx context.Context, id string, s domain.MembershipState, rec *domain.PaymentRecord) (inserted bool, err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, updateStateQuery,
		id, s.Status, s.ExpiresAt, s.CancelAtPeriodEnd, s.SubscriptionID, s.CustomerID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update member state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, fmt.Errorf("failed to update member state: member %s not found", id)
	}

	if rec != nil {
		tag, err = tx.Exec(ctx, insertPaymentQuery+` ON CONFLICT (user_id, external_subscription_id) DO NOTHING`,
			paymentArgs(rec)...,
		)
		if err != nil {
			return false, fmt.Errorf("failed to insert payment: %w", err)
		}
		inserted = tag.RowsAffected() == 1
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit payment: %w", err)
	}
	return inserted, nil
}

// ExpireLapsed moves approved, non-exempt members whose expiry is before now
// to expired in one transaction. checked counts the rows matching the
// predicate; expired lists the ids actually transitioned.
func (r *MemberRepository) ExpireLapsed(ctx context.Context, now time.Time, exemptRoles []string) (checked int, expired []string, err error) {
	if exemptRoles == nil {
		exemptRoles = []string{}
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id FROM members
		WHERE status = 'approved'
			AND membership_expires_at IS NOT NULL
			AND membership_expires_at < $1
			AND NOT (role = ANY($2))
		FOR UPDATE
	`, now, exemptRoles)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to select lapsed members: %w", err)
	}
	candidates, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return 0, nil, fmt.Errorf("failed to scan lapsed members: %w", err)
	}
	if len(candidates) == 0 {
		return 0, nil, tx.Commit(ctx)
	}

	rows, err = tx.Query(ctx, `
		UPDATE members SET status = 'expired', updated_at = NOW()
		WHERE id = ANY($1) AND status = 'approved'
		RETURNING id
	`, candidates)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to expire members: %w", err)
	}
	expired, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return 0, nil, fmt.Errorf("failed to expire members: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, nil, fmt.Errorf("failed to commit sweep: %w", err)
	}
	return len(candidates), expired, nil
}
