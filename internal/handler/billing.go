package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/weeme/internal/billing"
)

type BillingHandler struct {
	billing *billing.Service
	logger  *slog.Logger
}

func NewBillingHandler(svc *billing.Service, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{billing: svc, logger: logger}
}

func (h *BillingHandler) Packages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, billing.Packages())
}

type purchaseRequest struct {
	Package string `json:"package"`
}

func (h *BillingHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	acct, err := h.billing.Purchase(r.Context(), req.Package)
	switch {
	case errors.Is(err, billing.ErrUnknownPackage):
		writeError(w, http.StatusBadRequest, "unknown package")
	case errors.Is(err, billing.ErrNotAuthenticated):
		writeError(w, http.StatusUnauthorized, "Not signed in")
	case err != nil:
		h.logger.Error("purchase failed", "package", req.Package, "error", err)
		writeError(w, http.StatusInternalServerError, "Payment failed. Please try again.")
	default:
		writeJSON(w, http.StatusOK, sessionResponse{Authenticated: true, User: &acct})
	}
}
