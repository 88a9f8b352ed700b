package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/weeme/internal/scan"
)

type ScanHandler struct {
	scans  *scan.Service
	logger *slog.Logger
}

func NewScanHandler(scans *scan.Service, logger *slog.Logger) *ScanHandler {
	return &ScanHandler{scans: scans, logger: logger}
}

type scanRequest struct {
	URL string `json:"url"`
}

func (h *ScanHandler) Scan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	report, err := h.scans.Scan(r.Context(), req.URL)
	var apiErr *scan.APIError
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, report)
	case errors.Is(err, scan.ErrInvalidURL):
		writeError(w, http.StatusBadRequest, "Please enter a valid URL")
	case errors.Is(err, scan.ErrNotAuthenticated):
		writeError(w, http.StatusUnauthorized, "Not signed in")
	case errors.Is(err, scan.ErrInsufficientCredits):
		writeError(w, http.StatusPaymentRequired, "Not enough credits. Buy credits or upgrade to Pro.")
	case errors.As(err, &apiErr):
		writeError(w, http.StatusBadGateway, apiErr.Message)
	case report.ID != "":
		// The report is saved; only the credit charge failed.
		h.logger.Error("scan charge failed", "report_id", report.ID, "error", err)
		writeJSON(w, http.StatusCreated, report)
	default:
		h.logger.Error("scan failed", "url", req.URL, "error", err)
		writeError(w, http.StatusBadGateway, "Scan failed. Please try again.")
	}
}
