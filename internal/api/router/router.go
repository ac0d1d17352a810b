package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/booking-core/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/booking-core/internal/http/middleware"
	"github.com/wolfman30/booking-core/internal/identity"
	"github.com/wolfman30/booking-core/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Booking            *handlers.BookingHandler
	Health             http.Handler
	MetricsHandler     http.Handler
	AuthSecret         string
	CORSAllowedOrigins []string

	// RateLimiter throttles authenticated API calls (optional).
	RateLimiter *httpmiddleware.RateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	if cfg == nil || cfg.Booking == nil {
		panic("router: booking handler required")
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	health := cfg.Health
	if health == nil {
		health = handlers.NewHealthHandler(nil)
	}

	// Public endpoints
	r.Group(func(public chi.Router) {
		public.Method(http.MethodGet, "/health", health)
		if cfg.MetricsHandler != nil {
			public.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
		}
	})

	client := httpmiddleware.RequireRole(identity.RoleClient, identity.RoleAdmin)
	provider := httpmiddleware.RequireRole(identity.RoleProvider, identity.RoleAdmin)
	admin := httpmiddleware.RequireRole(identity.RoleAdmin)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(httpmiddleware.BearerJWT(cfg.AuthSecret))
		if cfg.RateLimiter != nil {
			v1.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
		}

		h := cfg.Booking
		v1.Get("/providers/{providerID}/slots", h.ListSlots)
		v1.With(client).Post("/holds", h.CreateHold)
		v1.With(client).Delete("/holds/{id}", h.ReleaseHold)

		v1.Route("/appointments/{id}", func(apt chi.Router) {
			apt.Get("/", h.GetAppointment)
			apt.With(client).Post("/promote", h.Promote)
			apt.Post("/cancel", h.Cancel)
			apt.With(admin).Post("/payment", h.RecordPayment)
			apt.With(provider).Post("/complete", h.Complete)
		})
	})

	return r
}
