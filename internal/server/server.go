package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"crypto-price-alerts/internal/config"
	"crypto-price-alerts/internal/engine"
	"crypto-price-alerts/internal/metrics"
)

// Checker runs one evaluation pass; satisfied by engine.Evaluator.
type Checker interface {
	EvaluateAll(ctx context.Context) (engine.Summary, error)
}

// Server exposes the cron trigger, health, and metrics endpoints. It carries
// no business state; evaluation goes through the Checker.
type Server struct {
	cfg      config.ServerConfig
	deadline time.Duration
	checker  Checker
	logger   zerolog.Logger
	router   *gin.Engine
}

// New assembles the router. deadline bounds a single cron-triggered
// evaluation pass.
func New(cfg config.ServerConfig, deadline time.Duration, checker Checker, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:      cfg,
		deadline: deadline,
		checker:  checker,
		logger:   logger.With().Str("component", "http").Logger(),
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.requestMetrics())

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api", s.requireCronSecret())
	api.GET("/cron/check-alerts", s.handleCheckAlerts)

	s.router = router
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.Addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	err := <-errCh
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleCheckAlerts runs one evaluation pass under the configured deadline.
// An incomplete pass maps to 504: transitions already written stand, and the
// caller's next tick picks up the rest.
func (s *Server) handleCheckAlerts(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.deadline)
	defer cancel()

	summary, err := s.checker.EvaluateAll(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("cron evaluation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if summary.Incomplete {
		c.JSON(http.StatusGatewayTimeout, summary)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) requireCronSecret() gin.HandlerFunc {
	expected := "Bearer " + s.cfg.CronSecret
	return func(c *gin.Context) {
		got := c.GetHeader("Authorization")
		if s.cfg.CronSecret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *Server) requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status()),
		).Inc()
	}
}
