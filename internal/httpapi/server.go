// Package httpapi serves the chartd REST API: patient records,
// encounter workflows, the notification feed, the test catalog,
// settings, sync control, and a server-sent-event stream of record
// mutations. The UI is the only intended client; the server binds to
// loopback by default.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/verdanthealth/chartd/internal/catalog"
	"github.com/verdanthealth/chartd/internal/events"
	"github.com/verdanthealth/chartd/internal/notifications"
	"github.com/verdanthealth/chartd/internal/records"
	"github.com/verdanthealth/chartd/internal/settings"
	"github.com/verdanthealth/chartd/internal/workflow"
)

// RecordStore is the slice of the record repository the API exposes.
type RecordStore interface {
	CreatePatient(ctx context.Context, in records.PatientInput) records.Result[records.PatientRecord]
	GetPatient(ctx context.Context, id string) records.Result[*records.PatientRecord]
	UpdatePatient(ctx context.Context, id string, in records.PatientInput) records.Result[records.PatientRecord]
	DeletePatient(ctx context.Context, id string) records.Outcome
	ListPatients(ctx context.Context) records.Result[[]records.PatientRecord]

	GetSession(ctx context.Context, id string) records.Result[*records.Session]
	DeleteSession(ctx context.Context, id string) records.Outcome

	ListEncounters(ctx context.Context, patientID string) records.Result[[]records.EncounterRecord]

	PendingSync() []records.JournalEntry
	ReplaySync(ctx context.Context) (synced, remaining int)
	LastError() error
}

var _ RecordStore = (*records.Repository)(nil)

// HealthReporter reports backend connectivity for /healthz.
type HealthReporter interface {
	IsHealthy() bool
	LastCheck() time.Time
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Dependencies carries the services the API serves.
type Dependencies struct {
	Repo      RecordStore
	Workflows workflow.Service
	Feed      *notifications.Service
	Catalog   *catalog.Catalog
	Settings  *settings.Service

	// Publisher feeds /v1/events/stream. May be nil when events are
	// disabled; the stream endpoint then answers 503.
	Publisher *events.Publisher

	// Health backs the /healthz connectivity report. May be nil.
	Health HealthReporter
}

// Server provides the chartd HTTP API.
type Server struct {
	echo    *echo.Echo
	config  *Config
	logger  *zap.Logger
	metrics *Metrics
	deps    Dependencies
}

// NewServer creates a new HTTP server.
func NewServer(cfg *Config, deps Dependencies, logger *zap.Logger) (*Server, error) {
	if deps.Repo == nil {
		return nil, errors.New("record store is required")
	}
	if deps.Workflows == nil {
		return nil, errors.New("workflow service is required")
	}
	if deps.Feed == nil {
		return nil, errors.New("notification feed is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("test catalog is required")
	}
	if deps.Settings == nil {
		return nil, errors.New("settings service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 7171
	}

	logger = logger.Named("httpapi")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	metrics := NewMetrics(logger)

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(metrics.Middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:    e,
		config:  cfg,
		logger:  logger,
		metrics: metrics,
		deps:    deps,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealthz)
	s.echo.GET("/metrics", echo.WrapHandler(s.metrics.PrometheusHandler(s.deps)))

	v1 := s.echo.Group("/v1")

	v1.GET("/patients", s.handleListPatients)
	v1.POST("/patients", s.handleCreatePatient)
	v1.GET("/patients/:id", s.handleGetPatient)
	v1.PUT("/patients/:id", s.handleUpdatePatient)
	v1.DELETE("/patients/:id", s.handleDeletePatient)

	v1.GET("/sessions/:id", s.handleGetSession)
	v1.DELETE("/sessions/:id", s.handleDeleteSession)

	v1.POST("/encounters", s.handleStartEncounter)
	v1.GET("/encounters", s.handleListEncounters)
	v1.GET("/encounters/active", s.handleListActive)
	v1.GET("/encounters/:id/state", s.handleEncounterState)
	v1.POST("/encounters/:id/navigate", s.handleNavigate)
	v1.PUT("/encounters/:id/sections/:step", s.handleUpdateSection)
	v1.GET("/encounters/:id/warnings", s.handleWarnings)
	v1.POST("/encounters/:id/finalize", s.handleFinalize)
	v1.POST("/encounters/:id/reset", s.handleResetEncounter)
	v1.DELETE("/encounters/:id", s.handleDiscardEncounter)

	v1.GET("/notifications", s.handleListNotifications)
	v1.POST("/notifications/:id/read", s.handleMarkNotificationRead)

	v1.GET("/catalog/tests", s.handleCatalogTests)

	v1.GET("/settings", s.handleGetSettings)
	v1.PUT("/settings", s.handlePutSettings)

	v1.GET("/sync/pending", s.handleSyncPending)
	v1.POST("/sync/replay", s.handleSyncReplay)

	v1.GET("/events/stream", s.handleEventStream)
}

// HealthResponse is the response body for GET /healthz.
type HealthResponse struct {
	Status      string     `json:"status"`
	Backend     string     `json:"backend"`
	LastCheck   *time.Time `json:"lastCheck,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
	PendingSync int        `json:"pendingSync"`
}

// handleHealthz reports daemon liveness and backend connectivity. The
// daemon itself is always "ok" when it can answer at all; the backend
// field tells the client whether writes are landing remotely.
func (s *Server) handleHealthz(c echo.Context) error {
	resp := HealthResponse{
		Status:      "ok",
		Backend:     "unknown",
		PendingSync: len(s.deps.Repo.PendingSync()),
	}
	if s.deps.Health != nil {
		if s.deps.Health.IsHealthy() {
			resp.Backend = "connected"
		} else {
			resp.Backend = "degraded"
		}
		if t := s.deps.Health.LastCheck(); !t.IsZero() {
			resp.LastCheck = &t
		}
	}
	if err := s.deps.Repo.LastError(); err != nil {
		resp.LastError = err.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// ServeHTTP lets tests drive the router without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
