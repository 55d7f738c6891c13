package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v3"

	"attendguard/pkg/platform/httputil"
	"attendguard/pkg/platform/middleware/auth"
	"attendguard/pkg/platform/middleware/metadata"
	"attendguard/pkg/platform/middleware/requesttime"
)

// Registrar mounts a handler's public routes.
type Registrar interface {
	Register(r chi.Router)
}

// AdminRegistrar mounts routes that require an administrator token.
type AdminRegistrar interface {
	RegisterAdmin(r chi.Router)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Deps is everything the router needs. Nil handlers are skipped.
type Deps struct {
	Logger         *slog.Logger
	AllowedOrigins []string
	AdminValidator auth.AdminValidator
	Public         []Registrar
	Admin          []AdminRegistrar
	Metrics        http.Handler
	HealthChecks   map[string]HealthCheck
}

const healthCheckTimeout = 2 * time.Second

// NewRouter wires the middleware stack and mounts every handler under /api/v1.
func NewRouter(deps Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(httplog.RequestLogger(deps.Logger, &httplog.Options{
		Level:  slog.LevelInfo,
		Schema: httplog.SchemaECS,
	}))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.CleanPath)
	if len(deps.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: deps.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
			MaxAge:         300,
		}))
	}
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)

	r.Get("/healthz", healthHandler(deps.HealthChecks))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		for _, h := range deps.Public {
			if h != nil {
				h.Register(r)
			}
		}

		if deps.AdminValidator == nil {
			return
		}
		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireAdmin(deps.AdminValidator, deps.Logger))
			for _, h := range deps.Admin {
				if h != nil {
					h.RegisterAdmin(r)
				}
			}
		})
	})
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		resp := healthResponse{Status: "ok"}
		status := http.StatusOK
		for name, check := range checks {
			if resp.Checks == nil {
				resp.Checks = make(map[string]string, len(checks))
			}
			if err := check(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
