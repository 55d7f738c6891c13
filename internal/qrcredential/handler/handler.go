package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"attendguard/internal/attendance"
	"attendguard/internal/ledger"
	"attendguard/internal/qrcredential"
	"attendguard/pkg/domain"
	dErrors "attendguard/pkg/domain-errors"
	"attendguard/pkg/platform/httputil"
	"attendguard/pkg/platform/sentinel"
	"attendguard/pkg/requestcontext"
)

// Codec encodes and decodes credentials.
type Codec interface {
	Encode(ctx context.Context, emp qrcredential.Employee, settings qrcredential.Settings) (string, error)
	Decode(ctx context.Context, payload string) qrcredential.Decoded
}

// Directory resolves the employee a credential is issued to.
type Directory interface {
	FindByID(ctx context.Context, id domain.EmployeeID) (*attendance.Employee, error)
}

type Auditor interface {
	Append(ctx context.Context, category ledger.Category, subtype, subjectID string, details ledger.Details) (ledger.Entry, error)
}

type Handler struct {
	codec     Codec
	directory Directory
	auditor   Auditor
	logger    *slog.Logger
}

func New(codec Codec, directory Directory, auditor Auditor, logger *slog.Logger) *Handler {
	return &Handler{codec: codec, directory: directory, auditor: auditor, logger: logger}
}

// RegisterAdmin mounts the credential endpoints under the admin router.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/qr/encode", h.HandleEncode)
	r.Post("/qr/decode", h.HandleDecode)
}

// EncodeRequest selects the employee and the optional fields. Unset flags
// take the defaults: code and timestamp on, name and department off.
type EncodeRequest struct {
	EmployeeID        string         `json:"employee_id"`
	IncludeCode       *bool          `json:"include_code"`
	IncludeName       *bool          `json:"include_name"`
	IncludeDepartment *bool          `json:"include_department"`
	IncludeTimestamp  *bool          `json:"include_timestamp"`
	Extensions        map[string]any `json:"extensions,omitempty"`

	parsed domain.EmployeeID
}

func (r *EncodeRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	id, err := domain.ParseEmployeeID(r.EmployeeID)
	if err != nil {
		return err
	}
	r.parsed = id
	return nil
}

func (r *EncodeRequest) settings() qrcredential.Settings {
	s := qrcredential.DefaultSettings()
	pick := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	pick(&s.IncludeCode, r.IncludeCode)
	pick(&s.IncludeName, r.IncludeName)
	pick(&s.IncludeDepartment, r.IncludeDepartment)
	pick(&s.IncludeTimestamp, r.IncludeTimestamp)
	s.Extensions = r.Extensions
	return s
}

type DecodeRequest struct {
	Payload string `json:"payload"`
}

func (r *DecodeRequest) Validate() error {
	if r == nil || strings.TrimSpace(r.Payload) == "" {
		return dErrors.New(dErrors.CodeValidation, "payload is required")
	}
	return nil
}

type EncodeResponse struct {
	Payload    string `json:"payload"`
	EmployeeID string `json:"employee_id"`
}

// HandleEncode handles POST /admin/qr/encode.
func (h *Handler) HandleEncode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[EncodeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	emp, err := h.directory.FindByID(ctx, req.parsed)
	if errors.Is(err, sentinel.ErrNotFound) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "employee not found"))
		return
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to load employee for credential",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load employee"))
		return
	}

	payload, err := h.codec.Encode(ctx, qrcredential.Employee{
		ID:         emp.ID,
		Code:       emp.Code,
		Name:       emp.Name,
		Department: emp.Department,
	}, req.settings())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if _, err := h.auditor.Append(ctx, ledger.CategoryAccess, ledger.SubtypeQRIssued, emp.ID.String(), ledger.Details{
		"admin": requestcontext.Admin(ctx),
	}); err != nil {
		h.logger.ErrorContext(ctx, "failed to audit credential issue",
			"employee_id", emp.ID.String(),
			"error", err,
		)
	}
	httputil.WriteJSON(w, http.StatusOK, EncodeResponse{Payload: payload, EmployeeID: emp.ID.String()})
}

// HandleDecode handles POST /admin/qr/decode. Rejected payloads are reported
// in the body, not as an error status.
func (h *Handler) HandleDecode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[DecodeRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.codec.Decode(ctx, req.Payload))
}
