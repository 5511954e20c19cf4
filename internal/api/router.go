package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"leaderboard/internal/config"
)

// RouterConfig contains all dependencies needed to construct the HTTP
// router. Designed for dependency injection and testability.
//
// Example usage in tests:
//
//	cfg := api.RouterConfig{
//	    Index: fakeIndex{},
//	    RateLimitConfig: config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
//	}
//	router := api.NewRouter(cfg)
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// Index is the ranked index backing every route (required).
	Index IndexInterface

	// RateLimiter is an optional pre-configured rate limiter. If nil, a
	// new one is created from RateLimitConfig.
	RateLimiter *IPRateLimiter

	// RateLimitConfig configures the rate limiter when RateLimiter is
	// nil. Zero value falls back to config.DefaultRateLimit().
	RateLimitConfig config.RateLimitConfig

	// CORSOrigins is an optional list of allowed CORS origins. If nil,
	// uses localhost-only defaults.
	CORSOrigins []string

	// DisableLogging disables the request logger middleware (useful for
	// benchmarks).
	DisableLogging bool

	// Feed is an optional WebSocket push endpoint for /leaderboard/feed.
	// If nil, the route is not registered.
	Feed *Feed
}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// IMPORTANT: This function is PURE — it has no side effects:
//   - No goroutines are started (besides the rate limiter's own
//     cleanup loop)
//   - No network listeners are opened
//
// This makes it safe to use in tests with httptest.NewServer.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)

	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rlCfg := cfg.RateLimitConfig
		if rlCfg == (config.RateLimitConfig{}) {
			rlCfg = config.DefaultRateLimit()
		}
		rateLimiter = NewIPRateLimiter(rlCfg)
	}
	r.Use(rateLimiter.Middleware)
	r.Use(metricsMiddleware)

	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	h := &routerHandlers{index: cfg.Index}

	r.Post("/customer/{customerid}/score/{delta}", h.handleUpdateScore)
	r.Get("/leaderboard", h.handleGetLeaderboard)
	r.Get("/leaderboard/{customerid}", h.handleGetCustomerWindow)

	if cfg.Feed != nil {
		r.Get("/leaderboard/feed", cfg.Feed.HandleWebSocket)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return r
}

// metricsMiddleware records latency and status for every request using a
// bounded route-pattern label (chi's matched pattern, never the raw
// path).
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			pattern = rctx.RoutePattern()
		}
		recordRequest(r.Method, pattern, ww.Status(), time.Since(start))
	})
}

// GetRateLimiterFromRouter returns cfg.RateLimiter when it is set;
// otherwise it builds a new limiter from cfg.RateLimitConfig, a separate
// instance from the one NewRouter creates for the same config.
func GetRateLimiterFromRouter(cfg RouterConfig) *IPRateLimiter {
	if cfg.RateLimiter != nil {
		return cfg.RateLimiter
	}
	rlCfg := cfg.RateLimitConfig
	if rlCfg == (config.RateLimitConfig{}) {
		rlCfg = config.DefaultRateLimit()
	}
	return NewIPRateLimiter(rlCfg)
}
