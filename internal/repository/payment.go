package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/memberhub/backend/internal/domain"
)

const insertPaymentQuery = `
	INSERT INTO payments (id, user_id, method, amount, currency, payment_date, expires_at_snapshot,
		external_subscription_id, external_payment_intent_id, recorded_by, notes, status, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

func paymentArgs(p *domain.PaymentRecord) []any {
	return []any{
		p.ID, p.UserID, p.Method, p.Amount, p.Currency, p.PaymentDate, p.ExpiresAtSnapshot,
		p.SubscriptionID, p.PaymentIntentID, p.RecordedBy, p.Notes, p.Status, p.CreatedAt,
	}
}

// PaymentRepository reads the payment ledger. Rows are written only through
// MemberRepository.ApplyPayment so they always commit with their state change.
type PaymentRepository struct {
	db *pgxpool.Pool
}

func NewPaymentRepository(db *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Exists reports whether a ledger row exists for the (user, subscription) pair.
func (r *PaymentRepository) Exists(ctx context.Context, userID, subscriptionID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM payments WHERE user_id = $1 AND external_subscription_id = $2)`
	var exists bool
	if err := r.db.QueryRow(ctx, query, userID, subscriptionID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check payment existence: %w", err)
	}
	return exists, nil
}

// ListByUser returns a member's ledger, newest first.
func (r *PaymentRepository) ListByUser(ctx context.Context, userID string) ([]*domain.PaymentRecord, error) {
	query := `
		SELECT id, user_id, method, amount, currency, payment_date, expires_at_snapshot,
			external_subscription_id, external_payment_intent_id, recorded_by, notes, status, created_at
		FROM payments WHERE user_id = $1 ORDER BY payment_date DESC, created_at DESC
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	payments := []*domain.PaymentRecord{}
	for rows.Next() {
		var p domain.PaymentRecord
		if err := rows.Scan(
			&p.ID, &p.UserID, &p.Method, &p.Amount, &p.Currency, &p.PaymentDate, &p.ExpiresAtSnapshot,
			&p.SubscriptionID, &p.PaymentIntentID, &p.RecordedBy, &p.Notes, &p.Status, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return payments, nil
}
