package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/weeme/internal/model"
	"github.com/dukerupert/weeme/internal/records"
	"github.com/dukerupert/weeme/internal/scan"
	"github.com/dukerupert/weeme/internal/session"
)

// RecordsHandler serves the signed-in account's reports and tracking codes.
type RecordsHandler struct {
	sessions *session.Manager
	reports  *records.Reports
	tracking *records.Tracking
	logger   *slog.Logger
	now      func() time.Time
}

func NewRecordsHandler(sessions *session.Manager, reports *records.Reports, tracking *records.Tracking, logger *slog.Logger) *RecordsHandler {
	return &RecordsHandler{
		sessions: sessions,
		reports:  reports,
		tracking: tracking,
		logger:   logger,
		now:      time.Now,
	}
}

// userID writes a 401 and returns "" when nobody is signed in.
func (h *RecordsHandler) userID(w http.ResponseWriter) string {
	acct, ok := h.sessions.Current()
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not signed in")
		return ""
	}
	return acct.ID
}

func (h *RecordsHandler) ListReports(w http.ResponseWriter, r *http.Request) {
	uid := h.userID(w)
	if uid == "" {
		return
	}
	reports, err := h.reports.List(r.Context(), uid)
	if err != nil {
		h.logger.Error("list reports", "user_id", uid, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list reports")
		return
	}
	if reports == nil {
		reports = []model.Report{}
	}
	writeJSON(w, http.StatusOK, reports)
}

func (h *RecordsHandler) ListTracking(w http.ResponseWriter, r *http.Request) {
	uid := h.userID(w)
	if uid == "" {
		return
	}
	codes, err := h.tracking.List(r.Context(), uid)
	if err != nil {
		h.logger.Error("list tracking codes", "user_id", uid, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list tracking codes")
		return
	}
	if codes == nil {
		codes = []model.TrackingCode{}
	}
	writeJSON(w, http.StatusOK, codes)
}

type trackingRequest struct {
	WebsiteURL    string `json:"websiteUrl"`
	ScanFrequency string `json:"scanFrequency"`
}

func (h *RecordsHandler) CreateTracking(w http.ResponseWriter, r *http.Request) {
	uid := h.userID(w)
	if uid == "" {
		return
	}

	var req trackingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	freq, err := model.ParseFrequency(req.ScanFrequency)
	if err != nil {
		writeError(w, http.StatusBadRequest, "scanFrequency must be weekly, biweekly, or monthly")
		return
	}

	code, err := h.tracking.Create(r.Context(), uid, req.WebsiteURL, freq)
	switch {
	case errors.Is(err, records.ErrEmptyURL):
		writeError(w, http.StatusBadRequest, "Please enter a website URL")
	case errors.Is(err, records.ErrTrackingLimit):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		h.logger.Error("create tracking code", "user_id", uid, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create tracking code")
	default:
		writeJSON(w, http.StatusCreated, code)
	}
}

func (h *RecordsHandler) DeleteTracking(w http.ResponseWriter, r *http.Request) {
	uid := h.userID(w)
	if uid == "" {
		return
	}
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.tracking.Delete(r.Context(), uid, id); err != nil {
		h.logger.Error("delete tracking code", "user_id", uid, "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete tracking code")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DueTracking lists active codes whose next scan is at or before now.
func (h *RecordsHandler) DueTracking(w http.ResponseWriter, r *http.Request) {
	uid := h.userID(w)
	if uid == "" {
		return
	}
	codes, err := h.tracking.Due(r.Context(), uid, h.now())
	if err != nil {
		h.logger.Error("due tracking codes", "user_id", uid, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list tracking codes")
		return
	}
	if codes == nil {
		codes = []model.TrackingCode{}
	}
	writeJSON(w, http.StatusOK, codes)
}

func (h *RecordsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	uid := h.userID(w)
	if uid == "" {
		return
	}
	reports, err := h.reports.List(r.Context(), uid)
	if err != nil {
		h.logger.Error("stats reports", "user_id", uid, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	codes, err := h.tracking.List(r.Context(), uid)
	if err != nil {
		h.logger.Error("stats tracking codes", "user_id", uid, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	writeJSON(w, http.StatusOK, scan.Summarize(reports, codes))
}
