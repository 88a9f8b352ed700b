package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/weeme/internal/model"
	"github.com/dukerupert/weeme/internal/session"
)

type AccountHandler struct {
	sessions *session.Manager
	logger   *slog.Logger
}

func NewAccountHandler(sessions *session.Manager, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{sessions: sessions, logger: logger}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// sessionResponse mirrors what the dashboard reads after an auth call.
type sessionResponse struct {
	Authenticated bool           `json:"authenticated"`
	User          *model.Account `json:"user"`
}

func (h *AccountHandler) current() sessionResponse {
	acct, ok := h.sessions.Current()
	if !ok {
		return sessionResponse{}
	}
	return sessionResponse{Authenticated: true, User: &acct}
}

func (h *AccountHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if _, err := h.sessions.Login(r.Context(), req.Username, req.Password); err != nil {
		h.authError(w, "login", err)
		return
	}
	writeJSON(w, http.StatusOK, h.current())
}

func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if _, err := h.sessions.Register(r.Context(), req.Username, req.Email, req.Password); err != nil {
		h.authError(w, "register", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.current())
}

func (h *AccountHandler) authError(w http.ResponseWriter, op string, err error) {
	var verr *session.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Message)
	case errors.Is(err, session.ErrMissingCredentials):
		writeError(w, http.StatusBadRequest, "Please fill in all fields")
	case errors.Is(err, session.ErrUnknownUser):
		writeError(w, http.StatusUnauthorized, "Unknown username")
	case errors.Is(err, session.ErrUsernameTaken):
		writeError(w, http.StatusConflict, "Username already exists")
	case errors.Is(err, session.ErrEmailTaken):
		writeError(w, http.StatusConflict, "Email already registered")
	default:
		h.logger.Error(op+" failed", "error", err)
		writeError(w, http.StatusInternalServerError, "An error occurred. Please try again.")
	}
}

func (h *AccountHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Logout(r.Context()); err != nil {
		h.logger.Error("logout failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to sign out")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{})
}

func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.current())
}

// Refresh re-reads the account from the local store, picking up writes made
// by another process.
func (h *AccountHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.RefreshUser(r.Context()); err != nil {
		h.logger.Error("refresh user", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to refresh account")
		return
	}
	writeJSON(w, http.StatusOK, h.current())
}

type creditsRequest struct {
	Delta   *int `json:"delta"`
	Credits *int `json:"credits"`
}

// Credits takes either {"delta": n} or {"credits": n}.
func (h *AccountHandler) Credits(w http.ResponseWriter, r *http.Request) {
	var req creditsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	var err error
	switch {
	case req.Delta != nil && req.Credits != nil:
		writeError(w, http.StatusBadRequest, "send either delta or credits, not both")
		return
	case req.Delta != nil:
		err = h.sessions.AddCredits(r.Context(), *req.Delta)
	case req.Credits != nil:
		err = h.sessions.UpdateCredits(r.Context(), *req.Credits)
	default:
		writeError(w, http.StatusBadRequest, "delta or credits is required")
		return
	}
	if err != nil {
		h.logger.Error("update credits", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update credits")
		return
	}
	writeJSON(w, http.StatusOK, h.current())
}

type membershipRequest struct {
	Tier string `json:"tier"`
}

func (h *AccountHandler) Membership(w http.ResponseWriter, r *http.Request) {
	var req membershipRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	tier, err := model.ParseTier(req.Tier)
	if err != nil {
		writeError(w, http.StatusBadRequest, "tier must be Free, Pro, or Advanced")
		return
	}
	if err := h.sessions.UpgradeMembership(r.Context(), tier); err != nil {
		h.logger.Error("upgrade membership", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update membership")
		return
	}
	writeJSON(w, http.StatusOK, h.current())
}
