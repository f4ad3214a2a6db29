package payment

import (
	"encoding/json"
	"fmt"
	"strings"
)

// expandableID decodes a reference that is either a bare id string or an
// expanded object carrying an "id" field.
type expandableID string

func (e *expandableID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*e = expandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

// SessionObject decodes the checkout session carried by a
// checkout.session.completed event.
func (e *Event) SessionObject() (*CheckoutSession, error) {
	var raw struct {
		ID                string            `json:"id"`
		Status            string            `json:"status"`
		PaymentStatus     string            `json:"payment_status"`
		Customer          expandableID      `json:"customer"`
		Subscription      expandableID      `json:"subscription"`
		ClientReferenceID string            `json:"client_reference_id"`
		AmountTotal       int64             `json:"amount_total"`
		Currency          string            `json:"currency"`
		Metadata          map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(e.Data, &raw); err != nil {
		return nil, fmt.Errorf("decode %s object: %w", e.Type, err)
	}
	return &CheckoutSession{
		ID:              raw.ID,
		Status:          raw.Status,
		PaymentStatus:   raw.PaymentStatus,
		SubscriptionID:  string(raw.Subscription),
		CustomerID:      string(raw.Customer),
		ClientReference: raw.ClientReferenceID,
		AmountTotal:     MajorUnits(raw.AmountTotal),
		Currency:        raw.Currency,
		Metadata:        raw.Metadata,
	}, nil
}

// SubscriptionRef identifies the subscription an event is about.
type SubscriptionRef struct {
	SubscriptionID string
	CustomerID     string
	// UserID is the member id from metadata, when present.
	UserID string
}

// SubscriptionRef extracts the subscription reference from a subscription or
// invoice event object.
func (e *Event) SubscriptionRef() (SubscriptionRef, error) {
	var raw struct {
		ID           string            `json:"id"`
		Object       string            `json:"object"`
		Customer     expandableID      `json:"customer"`
		Subscription expandableID      `json:"subscription"`
		Metadata     map[string]string `json:"metadata"`
		Parent       *struct {
			SubscriptionDetails *struct {
				Subscription expandableID      `json:"subscription"`
				Metadata     map[string]string `json:"metadata"`
			} `json:"subscription_details"`
		} `json:"parent"`
	}
	if err := json.Unmarshal(e.Data, &raw); err != nil {
		return SubscriptionRef{}, fmt.Errorf("decode %s object: %w", e.Type, err)
	}

	ref := SubscriptionRef{CustomerID: string(raw.Customer), UserID: raw.Metadata[MetadataUserID]}
	if raw.Object == "subscription" || strings.HasPrefix(e.Type, "customer.subscription.") {
		ref.SubscriptionID = raw.ID
		return ref, nil
	}

	// Invoices carry the subscription at the top level on older API versions
	// and under parent.subscription_details on newer ones.
	ref.SubscriptionID = string(raw.Subscription)
	if raw.Parent != nil && raw.Parent.SubscriptionDetails != nil {
		if ref.SubscriptionID == "" {
			ref.SubscriptionID = string(raw.Parent.SubscriptionDetails.Subscription)
		}
		if ref.UserID == "" {
			ref.UserID = raw.Parent.SubscriptionDetails.Metadata[MetadataUserID]
		}
	}
	return ref, nil
}
