package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	applog "fincal/internal/log"
	"fincal/internal/middleware/ratelimit"
	"fincal/internal/middleware/security"
	"fincal/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Deps are the collaborators the API needs.
type Deps struct {
	Service        *services.AccountService
	Auth           *Authenticator
	Logger         *applog.Logger
	AllowedOrigins []string
	RateLimit      ratelimit.Config
}

type Server struct {
	http.Server
	limiter      *ratelimit.Limiter
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(addr string, deps Deps) *Server {
	limiter := ratelimit.NewLimiter(deps.RateLimit)
	return &Server{
		Server: http.Server{
			Addr:              addr,
			Handler:           newRouter(deps, limiter),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		limiter: limiter,
	}
}

// Shutdown stops the limiter and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

func newRouter(deps Deps, limiter *ratelimit.Limiter) http.Handler {
	if deps.Logger == nil {
		deps.Logger = applog.New(applog.DefaultConfig())
	}
	if len(deps.AllowedOrigins) == 0 {
		deps.AllowedOrigins = []string{"*"}
	}
	detector := security.NewDetector()
	h := newHandlers(deps.Service)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(echoRequestID)
	r.Use(applog.Middleware(deps.Logger.WithComponent(applog.ComponentHTTP)))
	r.Use(applog.RequestIDMiddleware(func(r *http.Request) string { return middleware.GetReqID(r.Context()) }))
	r.Use(applog.AccessLog(detector.ExtractClientIP))
	r.Use(middleware.Recoverer)
	r.Use(detector.Block)
	r.Use(security.Headers(security.DefaultHeadersConfig()))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(deps.Auth.Middleware)
		r.Use(limiter.Middleware(rateLimitKey(detector), onRateLimited))
		r.Use(h.loadUser)

		r.Route("/calendar", func(r chi.Router) {
			r.Get("/", h.getCalendar)
			r.Post("/refresh", h.refresh)
			r.Post("/month", h.changeMonth)
			r.Get("/summary", h.summary)
		})
		r.Put("/account/balance", h.updateBalance)

		r.Route("/events", func(r chi.Router) {
			r.Post("/", h.saveEvent)
			r.Delete("/", h.deleteEvent)
			r.Put("/{id}", h.saveEvent)
			r.Delete("/{id}", h.deleteEvent)
		})

		r.Route("/expenses", func(r chi.Router) {
			r.Get("/", h.listExpenses)
			r.Post("/", h.addExpense)
			r.Put("/{id}", h.updateExpense)
			r.Delete("/{id}", h.deleteExpense)
		})

		r.Route("/debts", func(r chi.Router) {
			r.Get("/", h.listDebts)
			r.Post("/", h.addDebt)
			r.Put("/{id}", h.updateDebt)
			r.Delete("/{id}", h.deleteDebt)
			r.Get("/{id}/projection", h.debtProjection)
		})
	})

	return r
}

func echoRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set(middleware.RequestIDHeader, id)
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitKey limits authenticated users by id and everyone else by
// address.
func rateLimitKey(d *security.Detector) func(*http.Request) string {
	return func(r *http.Request) string {
		if id, ok := UserIDFromContext(r.Context()); ok {
			return "user:" + id
		}
		return "ip:" + d.ExtractClientIP(r)
	}
}

func onRateLimited(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusTooManyRequests, envelope{
		Message: "Rate limit exceeded. Please try again later.",
		Error:   "rate_limited",
	})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, envelope{Message: "ok"})
}
