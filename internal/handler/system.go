package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/weeme/internal/backup"
	"github.com/dukerupert/weeme/internal/config"
)

type SystemHandler struct {
	cfg     *config.Config
	backups *backup.Manager
	logger  *slog.Logger
}

// NewSystemHandler serves configuration status and backups. backups may be nil.
func NewSystemHandler(cfg *config.Config, backups *backup.Manager, logger *slog.Logger) *SystemHandler {
	return &SystemHandler{cfg: cfg, backups: backups, logger: logger}
}

type configResponse struct {
	config.Status
	Warnings []string `json:"warnings"`
}

func (h *SystemHandler) Config(w http.ResponseWriter, r *http.Request) {
	warnings := h.cfg.Warnings()
	if warnings == nil {
		warnings = []string{}
	}
	writeJSON(w, http.StatusOK, configResponse{Status: h.cfg.Status(), Warnings: warnings})
}

func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type backupStatusResponse struct {
	backup.Status
	HasPassphrase bool `json:"hasPassphrase"`
}

func (h *SystemHandler) BackupStatus(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		writeJSON(w, http.StatusOK, backupStatusResponse{Status: backup.Status{State: backup.StateDisabled}})
		return
	}
	writeJSON(w, http.StatusOK, backupStatusResponse{Status: h.backups.Status(), HasPassphrase: h.backups.HasPassphrase()})
}

func (h *SystemHandler) ListBackups(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		writeError(w, http.StatusServiceUnavailable, "backups are not configured")
		return
	}
	list, err := h.backups.List(r.Context(), 20)
	if err != nil {
		h.logger.Error("list backups", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list backups")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type backupRequest struct {
	Passphrase string `json:"passphrase"`
	Remember   bool   `json:"remember"`
}

func (h *SystemHandler) RunBackup(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		writeError(w, http.StatusServiceUnavailable, "backups are not configured")
		return
	}
	var req backupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	b, err := h.backups.RunNow(r.Context(), req.Passphrase)
	switch {
	case errors.Is(err, backup.ErrEmptyPassphrase):
		writeError(w, http.StatusBadRequest, "passphrase is required")
	case errors.Is(err, backup.ErrNotConfigured), errors.Is(err, backup.ErrMemoryStore):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		h.logger.Error("backup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "backup failed")
	default:
		if req.Remember {
			h.backups.CachePassphrase(req.Passphrase)
		}
		writeJSON(w, http.StatusCreated, b)
	}
}
