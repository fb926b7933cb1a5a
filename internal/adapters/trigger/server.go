package trigger

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mikey/tool-scanner/internal/core"
	"go.uber.org/zap"
)

// ServerOptions configures the HTTP trigger
type ServerOptions struct {
	ListenAddress   string
	ScanTimeout     time.Duration
	ShutdownTimeout time.Duration
	// NotifierConfigured reports reminder delivery in the health check
	NotifierConfigured bool
}

// HTTPServer exposes scan triggering and health over HTTP
type HTTPServer struct {
	echo    *echo.Echo
	scanner Scanner
	store   Pinger
	oauth   OAuthStatus
	opts    ServerOptions
	logger  *zap.Logger
	now     func() time.Time
}

type scanRequest struct {
	ConnectionID string `json:"connection_id"`
	ScanType     string `json:"scan_type"`
}

type scanResponse struct {
	Success bool              `json:"success"`
	Results []core.ScanResult `json:"results"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// NewHTTPServer creates the HTTP trigger. oauth may be nil.
func NewHTTPServer(scanner Scanner, store Pinger, oauth OAuthStatus, opts ServerOptions, logger *zap.Logger) *HTTPServer {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	s := &HTTPServer{
		echo:    echo.New(),
		scanner: scanner,
		store:   store,
		oauth:   oauth,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	s.echo.POST("/scans", s.handleScan)
	s.echo.GET("/health", s.handleHealth)
	return s
}

// Handler returns the routed handler
func (s *HTTPServer) Handler() http.Handler {
	return s.echo
}

// Start listens in the background
func (s *HTTPServer) Start() error {
	go func() {
		s.logger.Info("HTTP trigger listening", zap.String("address", s.opts.ListenAddress))
		if err := s.echo.Start(s.opts.ListenAddress); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP trigger error", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the listener down, waiting for in-flight requests
func (s *HTTPServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	return s.echo.Shutdown(ctx)
}

func (s *HTTPServer) handleScan(c echo.Context) error {
	var req scanRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		}
	}
	scanType, ok := core.ParseScanType(req.ScanType)
	if !ok {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "unknown scan_type " + req.ScanType})
	}

	ctx := c.Request().Context()
	if s.opts.ScanTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ScanTimeout)
		defer cancel()
	}

	results, err := s.scanner.RunScan(ctx, req.ConnectionID, scanType)
	if errors.Is(err, core.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "connection not found"})
	}
	if err != nil {
		s.logger.Error("Scan request failed",
			zap.String("connection_id", req.ConnectionID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, scanResponse{Success: true, Results: results})
}

func (s *HTTPServer) handleHealth(c echo.Context) error {
	checks := map[string]string{}
	status := "healthy"

	if err := s.store.Ping(c.Request().Context()); err != nil {
		s.logger.Warn("Store health check failed", zap.Error(err))
		checks["database"] = "error"
		status = "unhealthy"
	} else {
		checks["database"] = "ok"
	}

	for _, p := range []core.Provider{core.ProviderGmail, core.ProviderOutlook} {
		state := "not_configured"
		if s.oauth != nil && s.oauth.Configured(p) {
			state = "ok"
		}
		checks["oauth_"+string(p)] = state
	}

	if s.opts.NotifierConfigured {
		checks["notifier"] = "ok"
	} else {
		checks["notifier"] = "not_configured"
		if status == "healthy" {
			status = "degraded"
		}
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, healthResponse{Status: status, Timestamp: s.now().UTC(), Checks: checks})
}
