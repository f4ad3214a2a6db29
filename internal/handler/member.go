package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/memberhub/backend/internal/domain"
	"github.com/memberhub/backend/internal/service"
)

// MemberHandler serves member profiles to the member themself and to admins.
type MemberHandler struct {
	svc *service.MemberService
}

// NewMemberHandler creates a new MemberHandler.
func NewMemberHandler(svc *service.MemberService) *MemberHandler {
	return &MemberHandler{svc: svc}
}

// Me handles GET /api/membership.
func (h *MemberHandler) Me(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		unauthorized(w)
		return
	}

	m, err := h.svc.Get(r.Context(), uid)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, m)
}

// MyPayments handles GET /api/membership/payments.
func (h *MemberHandler) MyPayments(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		unauthorized(w)
		return
	}

	list, err := h.svc.Payments(r.Context(), uid)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, list)
}

// Create handles POST /api/admin/members.
func (h *MemberHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateMemberRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}

	m, err := h.svc.Create(r.Context(), &req)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusCreated, m)
}

// Get handles GET /api/admin/members/{id}.
func (h *MemberHandler) Get(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, m)
}

// Payments handles GET /api/admin/members/{id}/payments.
func (h *MemberHandler) Payments(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Payments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, list)
}

// Approve handles POST /api/admin/members/{id}/approve.
func (h *MemberHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var req domain.ApproveMemberRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		Error(w, err)
		return
	}

	m, err := h.svc.Approve(r.Context(), chi.URLParam(r, "id"), req.ExpiresAt)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, m)
}

// Reject handles POST /api/admin/members/{id}/reject.
func (h *MemberHandler) Reject(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.Reject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, m)
}

// ChangeLevel handles PUT /api/admin/members/{id}/level.
func (h *MemberHandler) ChangeLevel(w http.ResponseWriter, r *http.Request) {
	var req domain.ChangeLevelRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}

	m, err := h.svc.ChangeLevel(r.Context(), chi.URLParam(r, "id"), req.Level)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, m)
}
