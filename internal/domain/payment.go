package domain

import "time"

// PaymentMethod is how a payment was made.
type PaymentMethod string

const (
	MethodSubscription PaymentMethod = "subscription"
	MethodCash         PaymentMethod = "cash"
	MethodWire         PaymentMethod = "wire"
	MethodOther        PaymentMethod = "other"
)

// PaymentStatus is the outcome recorded for a payment.
type PaymentStatus string

const (
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// PaymentRecord is an append-only ledger row. Rows are never updated or deleted.
type PaymentRecord struct {
	ID                string        `json:"id"`
	UserID            string        `json:"userId"`
	Method            PaymentMethod `json:"method"`
	Amount            float64       `json:"amount"`
	Currency          string        `json:"currency"`
	PaymentDate       time.Time     `json:"paymentDate"`
	ExpiresAtSnapshot *time.Time    `json:"expiresAtSnapshot"`
	SubscriptionID    *string       `json:"externalSubscriptionId"`
	PaymentIntentID   *string       `json:"externalPaymentIntentId"`
	RecordedBy        *string       `json:"recordedBy"`
	Notes             string        `json:"notes"`
	Status            PaymentStatus `json:"status"`
	CreatedAt         time.Time     `json:"createdAt"`
}

// ManualPaymentRequest is the admin input for an out-of-band payment.
type ManualPaymentRequest struct {
	UserID                    string     `json:"userId" validate:"required"`
	Method                    string     `json:"method" validate:"required,oneof=cash wire other"`
	Amount                    *float64   `json:"amount" validate:"omitempty,gte=0"`
	Currency                  string     `json:"currency" validate:"omitempty,len=3"`
	ExpiresAt                 *time.Time `json:"expiresAt"`
	Notes                     string     `json:"notes" validate:"max=2000"`
	ClearExternalSubscription *bool      `json:"clearExternalSubscription"`
}

// ManualPaymentResult is returned after recording a manual payment.
type ManualPaymentResult struct {
	Member  *MemberProfile `json:"member"`
	Payment *PaymentRecord `json:"payment"`
}
