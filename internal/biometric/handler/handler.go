package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"attendguard/internal/biometric"
	"attendguard/pkg/domain"
	dErrors "attendguard/pkg/domain-errors"
	"attendguard/pkg/platform/httputil"
	"attendguard/pkg/requestcontext"
)

// Service is the biometric protocol surface exposed over HTTP.
type Service interface {
	IssueChallenge(ctx context.Context, subject domain.EmployeeID) (*biometric.IssuedChallenge, error)
	SecurityStatus(ctx context.Context, subject domain.EmployeeID) (*biometric.SecurityStatus, error)
	Reset(ctx context.Context, subject domain.EmployeeID) error
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/biometric/challenges", h.HandleIssueChallenge)
}

func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Get("/biometric/{employeeID}", h.HandleSecurityStatus)
	r.Delete("/biometric/{employeeID}/lockout", h.HandleReset)
}

// ChallengeRequest is the body of POST /biometric/challenges.
type ChallengeRequest struct {
	EmployeeID string `json:"employee_id"`

	parsed domain.EmployeeID
}

func (r *ChallengeRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	id, err := domain.ParseEmployeeID(strings.TrimSpace(r.EmployeeID))
	if err != nil {
		return err
	}
	r.parsed = id
	return nil
}

func (h *Handler) HandleIssueChallenge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[ChallengeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	challenge, err := h.service.IssueChallenge(ctx, req.parsed)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to issue biometric challenge",
			"request_id", requestID,
			"employee_id", req.parsed.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, challenge)
}

func (h *Handler) HandleSecurityStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := domain.ParseEmployeeID(chi.URLParam(r, "employeeID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	status, err := h.service.SecurityStatus(ctx, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := domain.ParseEmployeeID(chi.URLParam(r, "employeeID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.Reset(ctx, id); err != nil {
		h.logger.ErrorContext(ctx, "failed to reset biometric lockout",
			"request_id", requestcontext.RequestID(ctx),
			"employee_id", id.String(),
			"admin", requestcontext.Admin(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "biometric lockout reset",
		"employee_id", id.String(),
		"admin", requestcontext.Admin(ctx),
	)
	w.WriteHeader(http.StatusNoContent)
}
