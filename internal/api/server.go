// Package api exposes the odds service over HTTP and WebSocket.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/keiba-odds/internal/metrics"
	"github.com/yourusername/keiba-odds/internal/models"
	"github.com/yourusername/keiba-odds/internal/service"
)

// DataService is what the handlers need from the source router.
type DataService interface {
	GetOdds(ctx context.Context, key models.RaceKey, src service.Source, secondsBeforeDeadline *int) (*service.OddsEnvelope, error)
	GetRaceList(ctx context.Context, date string, src service.Source) (*service.RaceListEnvelope, error)
	GetRaceDetail(ctx context.Context, key models.RaceKey, src service.Source) (*service.RaceDetailEnvelope, error)
	PruneCache(ctx context.Context, olderThanDays int) (*service.PruneResult, error)
	Status() service.Status
	Ping(ctx context.Context) error
}

// Config holds the configuration for the API server.
type Config struct {
	ServiceName          string
	Version              string
	Host                 string
	Port                 int
	CORSOrigins          []string
	ReadTimeout          time.Duration
	WriteTimeout         time.Duration
	RequestTimeout       time.Duration
	UpdateInterval       time.Duration
	PingInterval         time.Duration
	PongTimeout          time.Duration
	DefaultRetentionDays int
	MetricsEnabled       bool
	MetricsPath          string
	Logger               *logrus.Logger
}

// Server serves the REST API, push subscriptions and metrics.
type Server struct {
	cfg     Config
	svc     DataService
	hub     *Hub
	router  chi.Router
	server  *http.Server
	logger  *logrus.Logger
	baseCtx context.Context
	cancel  context.CancelFunc

	mu    sync.RWMutex
	ready bool
}

// NewServer creates a new API server.
func NewServer(cfg Config, svc DataService) *Server {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "keiba-odds"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongTimeout <= cfg.PingInterval {
		cfg.PongTimeout = cfg.PingInterval * 2
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		svc:     svc,
		hub:     NewHub(cfg.Logger),
		logger:  cfg.Logger,
		baseCtx: ctx,
		cancel:  cancel,
	}
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the subscription hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(s.cfg.RequestTimeout))

		r.Get("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)
		r.Get("/status", s.handleStatus)
		r.Get("/races/{date}", s.handleRaceList)
		r.Get("/race/{raceKey}", s.handleRaceDetail)
		r.Get("/odds/{raceKey}", s.handleOdds)
		r.Post("/cache/prune", s.handlePrune)
	})

	r.Get("/ws/odds/{raceKey}", s.handleOddsSubscription)

	if s.cfg.MetricsEnabled {
		r.Handle(s.cfg.MetricsPath, metrics.Handler())
	}
	return r
}

// SetReady marks the server as ready to accept traffic.
func (s *Server) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

// IsReady returns whether the server is ready.
func (s *Server) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// Start starts serving in the background. The server shuts down when ctx
// is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		s.logger.WithFields(logrus.Fields{
			"address": ln.Addr().String(),
			"service": s.cfg.ServiceName,
		}).Info("API server starting")

		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("API server error")
		}
	}()

	go func() {
		<-ctx.Done()
		s.Shutdown()
	}()

	s.SetReady(true)
	return nil
}

// Shutdown closes every subscription and gracefully stops the server.
func (s *Server) Shutdown() error {
	s.SetReady(false)
	s.cancel()
	s.hub.CloseAll()

	if s.server == nil {
		return nil
	}
	s.logger.Info("API server shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}
