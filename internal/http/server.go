// Package http provides the read-side HTTP API for hived: board
// snapshots, resonance reads, trust weights, memory retrieval and
// Prometheus metrics.
package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/hived/internal/board"
	"github.com/fyrsmithlabs/hived/internal/config"
	"github.com/fyrsmithlabs/hived/internal/retriever"
	"github.com/fyrsmithlabs/hived/internal/store"
)

// SignalBoard is the board surface the server exposes.
type SignalBoard interface {
	Snapshot() []board.Signal
	CompactSnapshot(subject string) []board.CompactSignal
	TopSignals(subject string, n int) []board.Signal
	DetectResonance(subject string) board.Resonance
	Len() int
}

// Similarity is the retriever surface the server exposes.
type Similarity interface {
	FindSimilar(ctx context.Context, query, subject string, topK int, minSimilarity float64) []retriever.Match
	ContextSummary(ctx context.Context, subject string, asOf time.Time) string
}

// WeightSource serves the current per-agent trust weights.
type WeightSource interface {
	Weights(ctx context.Context) map[string]float64
}

// MemoryReader serves raw memory rows.
type MemoryReader interface {
	RecentMemories(ctx context.Context, subject string, windowDays, limit int) ([]store.MemoryEntry, error)
}

// Server provides HTTP endpoints for hived.
type Server struct {
	echo      *echo.Echo
	board     SignalBoard
	retriever Similarity
	weights   WeightSource
	memories  MemoryReader
	logger    *zap.Logger
	cfg       config.ServerConfig
}

// NewServer creates the HTTP server. The board is required; retriever,
// weights and memories may be nil when the daemon runs degraded, and the
// matching endpoints then answer 503.
func NewServer(b SignalBoard, r Similarity, w WeightSource, m MemoryReader, cfg config.ServerConfig, logger *zap.Logger) (*Server, error) {
	if b == nil {
		return nil, fmt.Errorf("board cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestMetrics())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:      e,
		board:     b,
		retriever: r,
		weights:   w,
		memories:  m,
		logger:    logger,
		cfg:       cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/board", s.handleBoard)
	v1.GET("/board/compact", s.handleBoardCompact)
	v1.GET("/board/top", s.handleBoardTop)
	v1.GET("/board/resonance", s.handleResonance)
	v1.GET("/weights", s.handleWeights)
	v1.GET("/memories", s.handleMemories)
	v1.GET("/memories/similar", s.handleSimilar)
	v1.GET("/memories/context", s.handleContext)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	LiveSignals int    `json:"live_signals"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", LiveSignals: s.board.Len()})
}

func (s *Server) handleBoard(c echo.Context) error {
	signals := s.board.Snapshot()
	if subject := c.QueryParam("subject"); subject != "" {
		filtered := signals[:0]
		for _, sig := range signals {
			if sig.Subject == subject {
				filtered = append(filtered, sig)
			}
		}
		signals = filtered
	}
	return c.JSON(http.StatusOK, signals)
}

func (s *Server) handleBoardCompact(c echo.Context) error {
	return c.JSON(http.StatusOK, s.board.CompactSnapshot(c.QueryParam("subject")))
}

func (s *Server) handleBoardTop(c echo.Context) error {
	n, err := intParam(c, "n", 5)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "n must be an integer")
	}
	return c.JSON(http.StatusOK, s.board.TopSignals(c.QueryParam("subject"), n))
}

func (s *Server) handleResonance(c echo.Context) error {
	subject := c.QueryParam("subject")
	if subject == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "subject parameter is required")
	}
	return c.JSON(http.StatusOK, s.board.DetectResonance(subject))
}

func (s *Server) handleWeights(c echo.Context) error {
	if s.weights == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "weight manager unavailable")
	}
	return c.JSON(http.StatusOK, s.weights.Weights(c.Request().Context()))
}

func (s *Server) handleMemories(c echo.Context) error {
	if s.memories == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "memory store unavailable")
	}
	subject := c.QueryParam("subject")
	if subject == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "subject parameter is required")
	}
	days, err := intParam(c, "days", 30)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "days must be an integer")
	}
	limit, err := intParam(c, "limit", 50)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "limit must be an integer")
	}

	entries, err := s.memories.RecentMemories(c.Request().Context(), subject, days, limit)
	if err != nil {
		s.logger.Warn("memory query failed", zap.String("subject", subject), zap.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "memory store unavailable")
	}
	return c.JSON(http.StatusOK, entries)
}

func (s *Server) handleSimilar(c echo.Context) error {
	if s.retriever == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "retriever unavailable")
	}
	query := c.QueryParam("q")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q parameter is required")
	}
	subject := c.QueryParam("subject")
	if subject == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "subject parameter is required")
	}
	topK, err := intParam(c, "k", 0)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "k must be an integer")
	}

	matches := s.retriever.FindSimilar(c.Request().Context(), query, subject, topK, 0)
	return c.JSON(http.StatusOK, matches)
}

// ContextResponse is the response body for GET /api/v1/memories/context.
type ContextResponse struct {
	Subject string `json:"subject"`
	Summary string `json:"summary"`
}

func (s *Server) handleContext(c echo.Context) error {
	if s.retriever == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "retriever unavailable")
	}
	subject := c.QueryParam("subject")
	if subject == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "subject parameter is required")
	}
	summary := s.retriever.ContextSummary(c.Request().Context(), subject, time.Now())
	return c.JSON(http.StatusOK, ContextResponse{Subject: subject, Summary: summary})
}

func intParam(c echo.Context, name string, fallback int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
