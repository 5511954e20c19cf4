package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"leaderboard/internal/config"
)

// Server is the HTTP API server with an optional WebSocket feed.
// Generalized from a game-engine-plus-streamer pair to a single ranked
// Index plus an optional push Feed.
type Server struct {
	index       IndexInterface
	router      http.Handler
	httpServer  *http.Server
	feed        *Feed
	rateLimiter *IPRateLimiter
}

// NewServer creates an API server with production configuration. Apart
// from the rate limiter's cleanup goroutine, no goroutines start and no
// listeners open until Start is called, so Router() can be used directly
// in tests with httptest.NewServer.
func NewServer(index IndexInterface, cfg config.AppConfig, enableFeed bool) *Server {
	s := &Server{index: index}
	s.rateLimiter = NewIPRateLimiter(cfg.RateLimit)

	if enableFeed {
		s.feed = NewFeed(func() interface{} {
			return leaderboardResponse(index.RanksByRange(1, feedTopN))
		})
	}

	s.router = NewRouter(RouterConfig{
		Index:           index,
		RateLimiter:     s.rateLimiter,
		RateLimitConfig: cfg.RateLimit,
		Feed:            s.feed,
	})

	s.httpServer = &http.Server{
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		Handler:      s.router,
	}

	return s
}

// Router returns the HTTP handler for use with httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins serving on addr and, if configured, the feed's broadcast
// loop. This is the only method that opens network listeners or starts
// the feed.
func (s *Server) Start(addr string) error {
	if s.feed != nil {
		go s.feed.Run(100 * time.Millisecond)
	}

	s.httpServer.Addr = addr
	log.Printf("📡 leaderboard API listening on %s", addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown performs a graceful shutdown: stops accepting new connections,
// waits (bounded by ctx) for in-flight requests to finish, then stops
// background workers.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.feed != nil {
		s.feed.Stop()
	}
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	return err
}
