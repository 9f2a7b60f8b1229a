package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"file-drop/internal/drop"
)

// Service is the part of drop.Service the handlers use.
type Service interface {
	Upload(ctx context.Context, payloads []drop.Payload) (*drop.UploadResult, error)
	Redeem(ctx context.Context, code string) (*drop.Redemption, error)
	CreateGroup(ctx context.Context, name string) (drop.Group, error)
	GetGroup(ctx context.Context, groupID string) (drop.Group, []drop.FileRecord, error)
	UploadToGroup(ctx context.Context, groupID string, p drop.Payload) (drop.FileRecord, error)
}

type Config struct {
	Addr           string // e.g. ":8080"
	MaxFiles       int
	MaxUploadBytes int64
	CORSOrigins    []string
	RateLimit      int
	RateWindow     time.Duration
	// TrustedProxies are IPs or CIDRs allowed to set X-Forwarded-For.
	TrustedProxies []string
	Version        string
}

type Server struct {
	cfg     Config
	svc     Service
	sweeper *Sweeper
	health  *HealthChecker
	log     *slog.Logger
	limiter *rateLimiter
	ips     clientIPs

	httpServer *http.Server
}

// New wires routes and middleware. sweeper and health may be nil, which
// disables POST /cleanup and reports only liveness respectively.
func New(cfg Config, svc Service, sweeper *Sweeper, health *HealthChecker, logger *slog.Logger) *Server {
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 10
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 100 << 20
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 60
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	if logger == nil {
		logger = slog.Default()
	}

	ips, invalid := newClientIPs(cfg.TrustedProxies)
	s := &Server{
		cfg:     cfg,
		svc:     svc,
		sweeper: sweeper,
		health:  health,
		log:     logger.With("component", "http"),
		ips:     ips,
	}
	if len(invalid) > 0 {
		s.log.Warn("ignoring invalid trusted proxies", "entries", invalid)
	}
	s.limiter = newRateLimiter(cfg.RateLimit, cfg.RateWindow, ips.resolve)
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(echoRequestID)
	r.Use(s.accessLog)
	r.Use(metricsMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))
	r.Use(middleware.Compress(5, "application/json"))

	r.Post("/upload", s.handleUpload)
	r.With(s.limiter.middleware).Get("/file/{code}", s.handleRedeem)

	r.Route("/group", func(r chi.Router) {
		r.Post("/create", s.handleCreateGroup)
		r.Get("/{groupId}", s.handleGetGroup)
		r.Get("/{groupId}/files", s.handleGetGroup)
		r.Post("/{groupId}/upload", s.handleGroupUpload)
	})

	r.Get("/health", s.handleHealth)
	r.Get("/health/live", s.handleLive)
	r.Get("/health/ready", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/cleanup", s.handleCleanup)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResp{Error: "Not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResp{Error: "Method not allowed"})
	})
	return r
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.log.Info("http server listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.stop()
	return s.httpServer.Shutdown(ctx)
}
