// Package httpapi exposes the orchestration engine over HTTP and WebSocket.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"legalmind/internal/domain"
	"legalmind/internal/infra/middleware"
	"legalmind/internal/usecase/multiagent"
)

// DefaultChatTimeout bounds a synchronous chat request.
const DefaultChatTimeout = 300 * time.Second

// Service is the orchestration surface the API serves.
type Service interface {
	StartRun(ctx context.Context, req domain.RunRequest) (domain.RunSummary, error)
	Execute(ctx context.Context, req domain.RunRequest) (domain.RunSummary, error)
	GetRunStatus(ctx context.Context, runID string) (domain.RunSummary, error)
	ListRuns(ctx context.Context, limit int) ([]domain.RunSummary, error)
	RunEvents(ctx context.Context, runID string) ([]domain.AgentEvent, error)
	ListAgents() []domain.AgentInfo
	ListTemplates() []multiagent.TemplateInfo
	ListProfiles() []multiagent.ProfileInfo
}

// Trigger fires a scheduled task outside its schedule.
type Trigger interface {
	RunNow(ctx context.Context, name string) (domain.RunSummary, error)
}

// CallMeter reports how many LLM calls fall in the current rate-limit window.
type CallMeter interface {
	InWindow() int
}

// Config holds the HTTP server settings.
type Config struct {
	Addr             string
	ChatTimeout      time.Duration
	RateLimitPerMin  int // zero disables rate limiting
	RateLimitBurst   int
	TrustedProxies   []string
	WebSocketEnabled bool
	Version          string
}

// Deps holds the collaborators of a Server.
type Deps struct {
	Service   Service
	Bus       domain.EventBus // optional, required for /ws/events
	EventLog  domain.EventLog // optional, serves session history
	Scheduler Trigger         // optional, enables manual schedule runs
	Limiter   CallMeter       // optional, reported by /health
	Logger    *slog.Logger
}

// Server is the HTTP API.
type Server struct {
	deps      Deps
	cfg       Config
	logger    *slog.Logger
	started   time.Time
	httpSrv   *http.Server
	boundAddr string
	mu        sync.Mutex
	streams   atomic.Int64
}

// NewServer creates a Server.
func NewServer(deps Deps, cfg Config) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.ChatTimeout <= 0 {
		cfg.ChatTimeout = DefaultChatTimeout
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 10
	}
	return &Server{deps: deps, cfg: cfg, logger: deps.Logger, started: time.Now()}
}

// Handler builds the routed handler with the middleware chain. ctx bounds the
// rate limiter's background sweeper.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/runs", s.handleStartRun)
	mux.HandleFunc("GET /api/v1/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /api/v1/runs/{id}/events", s.handleRunEvents)
	mux.HandleFunc("GET /api/v1/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/v1/sessions/{id}/events", s.handleSessionEvents)
	mux.HandleFunc("POST /api/v1/chat", s.handleChat)
	mux.HandleFunc("POST /api/v1/classify", s.handleClassify)
	mux.HandleFunc("GET /api/v1/agents", s.handleAgents)
	mux.HandleFunc("GET /api/v1/templates", s.handleTemplates)
	mux.HandleFunc("GET /api/v1/profiles", s.handleProfiles)
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	if s.deps.Scheduler != nil {
		mux.HandleFunc("POST /api/v1/schedules/{name}/run", s.handleRunSchedule)
	}
	if s.cfg.WebSocketEnabled && s.deps.Bus != nil {
		mux.HandleFunc("GET /ws/events", s.handleEvents)
	}

	var h http.Handler = mux
	if s.cfg.RateLimitPerMin > 0 {
		h = middleware.RateLimit(ctx, middleware.RateLimitConfig{
			RequestsPerMin: s.cfg.RateLimitPerMin,
			BurstSize:      s.cfg.RateLimitBurst,
			TrustedProxies: s.cfg.TrustedProxies,
		})(h)
	}
	h = middleware.SecurityHeaders(h)
	h = middleware.RequestLog(s.logger)(h)
	return h
}

// Start listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("httpapi listen: %w", err)
	}

	s.mu.Lock()
	s.boundAddr = listener.Addr().String()
	s.httpSrv = &http.Server{
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpSrv
	s.mu.Unlock()

	s.logger.Info("http api started", "addr", s.BoundAddr())

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("httpapi serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// BoundAddr returns the address the server bound to. Only valid after Start.
func (s *Server) BoundAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}
