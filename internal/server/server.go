package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/wagerd/internal/domain"
	"github.com/alanyoungcy/wagerd/internal/server/handler"
	"github.com/alanyoungcy/wagerd/internal/server/middleware"
	"github.com/alanyoungcy/wagerd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string

	// MaxClockSkew bounds the signed request timestamp.
	MaxClockSkew time.Duration

	// RateLimit requests per RateWindow per caller; zero disables limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Deps are the optional distributed collaborators of the middleware chain.
type Deps struct {
	Limiter domain.RateLimiter
	// Replay rejects reused request signatures when set.
	Replay domain.LockManager
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Status   *handler.StatusHandler
	Markets  *handler.MarketHandler
	Accounts *handler.AccountHandler
	Feeds    *handler.FeedHandler
	Audit    *handler.AuditHandler
}

// Server is the HTTP + WebSocket API of the settlement engine.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (CORS, logging, signature auth, rate limiting) and
// attaches the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, deps Deps, wsHub *ws.Hub, logger *slog.Logger) *Server {
	h := NewHandler(cfg, handlers, deps, wsHub, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "server")),
	}
}

// NewHandler builds the routed and wrapped http.Handler. Nil handler groups
// leave their routes unregistered.
func NewHandler(cfg Config, handlers Handlers, deps Deps, wsHub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	if handlers.Health != nil {
		mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	}
	if handlers.Status != nil {
		mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	}

	// Market lifecycle.
	if m := handlers.Markets; m != nil {
		mux.HandleFunc("POST /api/markets", m.CreateMarket)
		mux.HandleFunc("GET /api/markets/{id}", m.GetMarket)
		mux.HandleFunc("POST /api/markets/{id}/close", m.CloseMarket)
		mux.HandleFunc("POST /api/markets/{id}/settle", m.SettleMarket)
		mux.HandleFunc("POST /api/markets/{id}/winner", m.SetWinningOutcome)
		mux.HandleFunc("POST /api/markets/{id}/resolve", m.ResolveFromFeeds)
		mux.HandleFunc("POST /api/markets/{id}/confirm", m.ConfirmMarket)
		mux.HandleFunc("GET /api/markets/{id}/record", m.GetRecord)
		mux.HandleFunc("GET /api/archive", m.ListArchived)

		mux.HandleFunc("GET /api/markets/{id}/bets", m.ListBets)
		mux.HandleFunc("POST /api/markets/{id}/bets", m.PlaceBet)
		mux.HandleFunc("GET /api/markets/{id}/bets/{bettor}", m.GetBet)
		mux.HandleFunc("POST /api/markets/{id}/claim", m.ClaimReward)
	}

	if a := handlers.Accounts; a != nil {
		mux.HandleFunc("GET /api/accounts/{address}/balance", a.GetBalance)
		mux.HandleFunc("POST /api/accounts/{address}/credit", a.Credit)
	}

	if f := handlers.Feeds; f != nil {
		mux.HandleFunc("GET /api/feeds/{id}", f.GetPrice)
		mux.HandleFunc("PUT /api/feeds/{id}", f.SetPrice)
	}

	if handlers.Audit != nil {
		mux.HandleFunc("GET /api/audit", handlers.Audit.ListAudit)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Innermost first: auth must resolve the caller before rate limiting
	// keys on it.
	var h http.Handler = mux
	h = middleware.RateLimit(deps.Limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	h = middleware.Auth(middleware.AuthConfig{MaxSkew: cfg.MaxClockSkew, Replay: deps.Replay}, logger)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
