package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"attendguard/internal/attendance"
	"attendguard/internal/ledger"
	"attendguard/pkg/platform/httputil"
	"attendguard/pkg/platform/privacy"
	"attendguard/pkg/requestcontext"
)

// Service is the orchestrator surface the handler drives.
type Service interface {
	EvaluateCheckin(ctx context.Context, req attendance.Request) (*attendance.Decision, error)
	Status(ctx context.Context, identifier string) (*attendance.Status, error)
	QueryAudit(ctx context.Context, filter ledger.Filter) (*ledger.Report, error)
}

// ChainVerifier recomputes the ledger hash chain.
type ChainVerifier interface {
	Verify(ctx context.Context) (ledger.VerifyResult, error)
}

type Handler struct {
	service  Service
	verifier ChainVerifier
	logger   *slog.Logger
}

func New(service Service, verifier ChainVerifier, logger *slog.Logger) *Handler {
	return &Handler{service: service, verifier: verifier, logger: logger}
}

// Register mounts the employee-facing endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Post("/attendance/checkin", h.HandleCheckin)
	r.Get("/attendance/status/{identifier}", h.HandleStatus)
}

// RegisterAdmin mounts the audit endpoints; the router guards them.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Get("/audit", h.HandleQueryAudit)
	r.Get("/audit/verify", h.HandleVerifyAudit)
}

// HandleCheckin handles POST /attendance/checkin. Denials are returned as a
// decision body with a non-2xx status.
func (h *Handler) HandleCheckin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[CheckinRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	decision, err := h.service.EvaluateCheckin(ctx, req.ToDomain(requestcontext.UserAgent(ctx)))
	if err != nil {
		h.logger.ErrorContext(ctx, "check-in evaluation failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "check-in evaluated",
		"request_id", requestID,
		"identifier", privacy.HashIdentifier(req.Identifier),
		"action", string(decision.Action),
		"outcome", string(decision.Outcome),
		"reason", string(decision.Reason),
	)
	httputil.WriteJSON(w, statusFor(decision), decision)
}

func statusFor(d *attendance.Decision) int {
	switch d.Reason {
	case attendance.ReasonNone:
		return http.StatusOK
	case attendance.ReasonInvalidRequest:
		return http.StatusBadRequest
	case attendance.ReasonNotFound:
		return http.StatusNotFound
	case attendance.ReasonDuplicateCheckIn, attendance.ReasonCheckOutBeforeIn:
		return http.StatusConflict
	case attendance.ReasonEmployeeLockedOut:
		return http.StatusLocked
	case attendance.ReasonStorageError:
		return http.StatusServiceUnavailable
	}
	return http.StatusForbidden
}

// HandleStatus handles GET /attendance/status/{identifier}.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status, err := h.service.Status(ctx, chi.URLParam(r, "identifier"))
	if err != nil {
		h.logger.WarnContext(ctx, "attendance status lookup failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

// HandleQueryAudit handles GET /admin/audit.
func (h *Handler) HandleQueryAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter, err := parseAuditFilter(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	report, err := h.service.QueryAudit(ctx, filter)
	if err != nil {
		h.logger.ErrorContext(ctx, "audit query failed",
			"request_id", requestcontext.RequestID(ctx),
			"admin", requestcontext.Admin(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

// HandleVerifyAudit handles GET /admin/audit/verify.
func (h *Handler) HandleVerifyAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	result, err := h.verifier.Verify(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if !result.Valid {
		h.logger.ErrorContext(ctx, "audit chain verification failed",
			"broken_at", result.BrokenAt,
			"reason", result.BrokenReason,
		)
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}
