package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/transfa/user-service/internal/domain"
)

// UserService is the set of operations the handlers expose.
type UserService interface {
	Register(ctx context.Context, req domain.RegisterRequest) (*domain.UserResponse, error)
	GetUserByID(ctx context.Context, userID string) (*domain.User, error)
	UpdateUser(ctx context.Context, userID string, req domain.UserUpdateRequest) (*domain.UserResponse, error)
	UpdateSecurityCredentials(ctx context.Context, userID string, req domain.SecurityUpdateRequest) (*domain.UserResponse, error)
	GetRegistrationProgress(ctx context.Context, userID string) ([]domain.RegistrationProgress, error)
}

// Handler serves the user and security-details endpoints.
type Handler struct {
	svc      UserService
	validate *validator.Validate
	logger   *zap.Logger
}

// NewHandler creates a handler backed by svc.
func NewHandler(svc UserService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, validate: newValidator(), logger: logger}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Register handles POST /api/users/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	if err := validateRequest(h.validate, req); err != nil {
		h.fail(w, r, err)
		return
	}

	resp, err := h.svc.Register(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// GetUser handles GET /api/users/{userId}.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.svc.GetUserByID(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UpdateUser handles PUT /api/users/{userId}.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.UserUpdateRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	if err := validateRequest(h.validate, req); err != nil {
		h.fail(w, r, err)
		return
	}

	resp, err := h.svc.UpdateUser(r.Context(), chi.URLParam(r, "userId"), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetRegistrationProgress handles GET /api/users/{userId}/registration-progress.
func (h *Handler) GetRegistrationProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := h.svc.GetRegistrationProgress(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if progress == nil {
		progress = []domain.RegistrationProgress{}
	}
	writeJSON(w, http.StatusOK, progress)
}

// UpdateSecurityDetails handles PUT /api/security-details/{userId}.
func (h *Handler) UpdateSecurityDetails(w http.ResponseWriter, r *http.Request) {
	var req domain.SecurityUpdateRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	h.updateSecurity(w, r, req)
}

// UpdateSecurityDetailsInternal handles PUT /internal/api/security-details/{userId}.
// The loginFailed query flag records a failed login; a body may be omitted.
func (h *Handler) UpdateSecurityDetailsInternal(w http.ResponseWriter, r *http.Request) {
	var req domain.SecurityUpdateRequest
	if !h.decode(w, r, &req, true) {
		return
	}
	if raw := r.URL.Query().Get("loginFailed"); raw != "" {
		loginFailed, err := strconv.ParseBool(raw)
		if err != nil {
			h.fail(w, r, &domain.ValidationError{Field: "loginFailed", Reason: "must be a boolean"})
			return
		}
		req.LoginFailed = loginFailed
	}
	h.updateSecurity(w, r, req)
}

func (h *Handler) updateSecurity(w http.ResponseWriter, r *http.Request, req domain.SecurityUpdateRequest) {
	if err := validateRequest(h.validate, req); err != nil {
		h.fail(w, r, err)
		return
	}
	resp, err := h.svc.UpdateSecurityCredentials(r.Context(), chi.URLParam(r, "userId"), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || (allowEmpty && errors.Is(err, io.EOF)) {
		return true
	}
	writeError(w, http.StatusBadRequest, "INVALID_REQUEST_BODY_400", "invalid request body")
	return false
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	fields := []zap.Field{zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err)}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", fields...)
	} else {
		h.logger.Info("request rejected", fields...)
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}
	writeError(w, status, domain.ErrorCode(err), message)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrDependency):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
