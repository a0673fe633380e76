package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vnmchuo/usage-tracker/internal/auth"
	"github.com/vnmchuo/usage-tracker/internal/metrics"
)

type RouterOptions struct {
	// AllowedOrigins enables CORS when non-empty.
	AllowedOrigins []string
	// AccessLog turns on chi's request logger.
	AccessLog bool
}

func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	if opts.AccessLog {
		r.Use(chimiddleware.Logger)
	}
	r.Use(chimiddleware.Recoverer)
	r.Use(measure)

	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	// Public routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"usage-tracker"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/organizations", h.HandleRegister)
	r.Delete("/organizations", h.HandleDeleteOrganization)

	// Bearer routes
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware())
		r.Post("/usage", h.HandleTrackUsage)
		r.Get("/costs/user", h.HandleUserCosts)
		r.Get("/costs/organization", h.HandleOrgCosts)
	})

	return r
}

// measure records request latency by route pattern.
func measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		metrics.HTTPRequestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).
			Observe(time.Since(start).Seconds())
	})
}
