// Package httptransport assembles the public HTTP surface: middleware, the
// registry and engine handlers, and the role, asset and audit endpoints.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"receiv3/internal/access"
	"receiv3/internal/asset"
	invoicehandler "receiv3/internal/invoice/handler"
	"receiv3/internal/platform/metrics"
	poolhandler "receiv3/internal/pool/handler"
	ratelimitmw "receiv3/internal/ratelimit/middleware"
	ratelimitmodels "receiv3/internal/ratelimit/models"
	"receiv3/pkg/platform/audit"
	"receiv3/pkg/platform/httputil"
	authmw "receiv3/pkg/platform/middleware/auth"
	"receiv3/pkg/platform/middleware/metadata"
	"receiv3/pkg/platform/middleware/request"
	"receiv3/pkg/platform/middleware/requesttime"
)

// EventReader is the audit trail query surface.
type EventReader interface {
	ListByEntity(ctx context.Context, entityType audit.EntityType, entityID string) ([]audit.Event, error)
	ListRecent(ctx context.Context, limit int) ([]audit.Event, error)
}

// HealthCheck reports whether one backing dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Dependencies are the services the router exposes.
type Dependencies struct {
	Logger        *slog.Logger
	Validator     authmw.JWTValidator
	Registry      invoicehandler.Service
	Engine        poolhandler.Service
	RegistryRoles *access.Controller
	EngineRoles   *access.Controller
	Ledger        asset.Ledger
	Events        EventReader
	Metrics       *metrics.HTTP
	Gatherer      prometheus.Gatherer
	Health        map[string]HealthCheck
	RateLimiter   *ratelimitmw.Middleware
}

// NewRouter wires every route. Reads are public; any other method requires a
// bearer token whose subject becomes the caller.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(request.Recovery(deps.Logger))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}

	r.Get("/healthz", healthHandler(deps.Health))
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(authenticateWrites(authmw.RequireAuth(deps.Validator, deps.Logger)))
		r.Use(request.Logger(deps.Logger))
		faucetLimit := passThrough
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.RateLimitWrites(ratelimitmodels.ClassWrite))
			faucetLimit = deps.RateLimiter.RateLimit(ratelimitmodels.ClassFaucet)
		}

		invoicehandler.New(deps.Registry, deps.Logger).Register(r)
		poolhandler.New(deps.Engine, deps.Logger).Register(r)
		newRolesHandler(map[access.Component]*access.Controller{
			access.ComponentRegistry: deps.RegistryRoles,
			access.ComponentEngine:   deps.EngineRoles,
		}, deps.Logger).Register(r)
		newAssetHandler(deps.Ledger, faucetLimit, deps.Logger).Register(r)
		newEventsHandler(deps.Events, deps.Logger).Register(r)
	})
	return r
}

func passThrough(next http.Handler) http.Handler { return next }

// authenticateWrites applies auth to every method except GET and HEAD.
func authenticateWrites(auth func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		authed := auth(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			authed.ServeHTTP(w, r)
		})
	}
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		body := map[string]any{"status": "ok", "checks": results}
		if status != http.StatusOK {
			body["status"] = "degraded"
		}
		httputil.WriteJSON(w, status, body)
	}
}
