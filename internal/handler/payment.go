package handler

import (
	"net/http"
	"strings"

	"github.com/memberhub/backend/internal/domain"
	"github.com/memberhub/backend/internal/service"
)

// PaymentHandler serves the member-facing billing endpoints.
type PaymentHandler struct {
	svc *service.CheckoutService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(svc *service.CheckoutService) *PaymentHandler {
	return &PaymentHandler{svc: svc}
}

// CreateCheckout handles POST /api/billing/checkout.
func (h *PaymentHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		unauthorized(w)
		return
	}

	resp, err := h.svc.StartCheckout(r.Context(), uid)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, resp)
}

type confirmRequest struct {
	SessionID string `json:"sessionId"`
}

// ConfirmCheckout handles POST /api/billing/checkout/confirm.
func (h *PaymentHandler) ConfirmCheckout(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		unauthorized(w)
		return
	}

	var req confirmRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		Error(w, domain.ErrValidation("sessionId is required"))
		return
	}

	res, err := h.svc.ConfirmCheckout(r.Context(), uid, req.SessionID)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, res)
}

type cancelRequest struct {
	CancelAtPeriodEnd *bool `json:"cancelAtPeriodEnd"`
}

// Cancel handles POST /api/billing/cancel. The subscription runs until the
// end of the paid period; {"cancelAtPeriodEnd": false} resumes it.
func (h *PaymentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		unauthorized(w)
		return
	}

	var req cancelRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		Error(w, err)
		return
	}
	cancel := true
	if req.CancelAtPeriodEnd != nil {
		cancel = *req.CancelAtPeriodEnd
	}

	res, err := h.svc.SetCancelAtPeriodEnd(r.Context(), uid, cancel)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, res)
}
