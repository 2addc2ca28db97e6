package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"clinicbooking/internal/api"
	"clinicbooking/internal/booking"
	"clinicbooking/internal/clinic"
	"clinicbooking/internal/review"
	"clinicbooking/pkg/config"
	"clinicbooking/pkg/session"
)

type Dependencies struct {
	Cfg config.Config
	Log *zap.Logger
	DB  *pgxpool.Pool
	// Redis is nil when the guard runs in memory.
	Redis *redis.Client

	Bookings *booking.Service
	Clinics  clinic.Directory
	Reviews  review.Repository

	// Proxies decides when forwarding headers name the client; see config TrustedProxies.
	Proxies api.ProxyTrust
}

func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(api.RequestIDMiddleware)
	r.Use(api.AccessLog(deps.Log))
	r.Use(middleware.Recoverer)
	r.Use(api.CORSMiddleware(api.CORSOptions{
		AllowedOrigins: deps.Cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		MaxAgeSeconds:  600,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", readyHandler(deps))

	verifier := session.Verifier{
		Secret:       deps.Cfg.Session.Secret,
		UserAudience: deps.Cfg.Session.UserAudience,
		OpsAudience:  deps.Cfg.Session.OpsAudience,
	}
	bookingHandlers := booking.Handlers{Service: deps.Bookings, Clinics: deps.Clinics, Log: deps.Log}
	reviewHandlers := review.Handlers{Repo: deps.Reviews, Log: deps.Log}
	clinicHandlers := clinic.Handlers{Directory: deps.Clinics, Log: deps.Log}
	limiter := api.NewRateLimiter(deps.Cfg.RateLimit.PerMinute, deps.Cfg.RateLimit.Burst)

	r.Route("/v1", func(r chi.Router) {
		r.Use(api.OptionalSession(verifier.Verify, deps.Cfg.Session.CookieName))

		// Public surface used by guests and signed-in users.
		r.Group(func(r chi.Router) {
			r.Use(limiter.Middleware(deps.Log, deps.Proxies))

			r.Post("/booking-requests", bookingHandlers.Create)
			r.Get("/booking-requests/my-requests", bookingHandlers.MyRequests)
			r.Get("/booking-requests/{id}", bookingHandlers.Get)
			r.Get("/booking-requests/{id}/can-review", bookingHandlers.CanReview)

			r.Post("/reviews", bookingHandlers.CreateReview)
			r.Post("/reviews/{id}/helpful", reviewHandlers.MarkHelpful)
			r.Get("/clinics/{id}", clinicHandlers.Get)
			r.Get("/clinics/{id}/reviews", reviewHandlers.ListByClinic)
		})

		// Operations console.
		r.Route("/ops", func(r chi.Router) {
			r.Use(api.RequireOps)

			r.Get("/booking-requests", bookingHandlers.OpsQueue)
			r.Get("/booking-requests/{id}", bookingHandlers.OpsGet)
			r.Post("/booking-requests/{id}/status", bookingHandlers.Transition)
			r.Get("/booking-requests/{id}/events", bookingHandlers.Events)
			r.Get("/stats", bookingHandlers.Stats)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		api.WriteError(w, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		api.WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})

	return r
}

func readyHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{}
		ready := true
		if deps.DB != nil {
			if err := deps.DB.Ping(ctx); err != nil {
				deps.Log.Warn("readiness: postgres", zap.Error(err))
				checks["postgres"] = "down"
				ready = false
			} else {
				checks["postgres"] = "ok"
			}
		}
		if deps.Redis != nil {
			if err := deps.Redis.Ping(ctx).Err(); err != nil {
				deps.Log.Warn("readiness: redis", zap.Error(err))
				checks["redis"] = "down"
				ready = false
			} else {
				checks["redis"] = "ok"
			}
		}

		if !ready {
			api.WriteEnvelope(w, http.StatusServiceUnavailable, api.Envelope{Success: false, Data: checks, Error: "not ready", Code: "UNAVAILABLE"})
			return
		}
		api.WriteJSON(w, http.StatusOK, checks)
	}
}
