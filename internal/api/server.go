package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"envoy-logger/config"
	"envoy-logger/internal/engine"
	"envoy-logger/internal/logger"
	"envoy-logger/internal/sink/sqlite"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// StatusProvider reports the sampling loop's state.
type StatusProvider interface {
	Status() engine.Status
}

// Store serves stored readings. It is optional.
type Store interface {
	GetLatestReading() (*sqlite.Reading, error)
	GetReadingsByRange(from, to time.Time) ([]sqlite.Reading, error)
	GetReadingsWithLimit(limit int) ([]sqlite.Reading, error)
	GetDailySummaries(limit int) ([]sqlite.DailySummary, error)
	GetDailyStats(date time.Time) (*sqlite.DailyStats, error)
}

type Server struct {
	router  *gin.Engine
	server  *http.Server
	engine  StatusProvider
	db      Store
	metrics http.Handler
	config  *config.Config
	port    int
	started time.Time
	log     zerolog.Logger
}

type ServerConfig struct {
	Port    int
	Engine  StatusProvider
	Store   Store
	Metrics http.Handler
	Config  *config.Config
}

func NewServer(cfg ServerConfig) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router:  router,
		engine:  cfg.Engine,
		db:      cfg.Store,
		metrics: cfg.Metrics,
		config:  cfg.Config,
		port:    cfg.Port,
		started: time.Now(),
		log:     logger.With("api"),
	}
	router.Use(s.requestLogger())

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", s.healthHandler)

	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics))
	}

	// API routes
	api := s.router.Group("/api/v1")
	{
		if s.engine != nil {
			api.GET("/status", s.statusHandler)
		}
		if s.config != nil {
			api.GET("/config", s.configHandler)
		}
		if s.db != nil {
			api.GET("/readings", s.readingsHandler)
			api.GET("/readings/latest", s.latestReadingHandler)
			api.GET("/summaries", s.summariesHandler)
			api.GET("/stats/daily", s.dailyStatsHandler)
		}
	}
}

// Handler returns the router for use without Start.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info().Int("port", s.port).Msg("API server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) healthHandler(c *gin.Context) {
	body := gin.H{
		"status":    "healthy",
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"timestamp": time.Now(),
	}

	code := http.StatusOK
	if s.engine != nil {
		st := s.engine.Status()
		body["state"] = st.State
		body["cycles"] = st.Cycles
		body["failures"] = st.Failures
		if !st.LastCycle.IsZero() {
			body["last_cycle"] = st.LastCycle
		}
		if st.State == engine.StateStopped {
			body["status"] = "stopped"
			code = http.StatusServiceUnavailable
		}
	}

	c.JSON(code, body)
}

func (s *Server) statusHandler(c *gin.Context) {
	st := s.engine.Status()
	if st.Power == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "No data available yet",
			"state": st.State,
		})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) configHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.config.Redacted())
}

func (s *Server) readingsHandler(c *gin.Context) {
	fromStr := c.Query("from")
	toStr := c.Query("to")
	limit := queryLimit(c, 100, 1000)

	if fromStr != "" && toStr != "" {
		from, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'from' date format"})
			return
		}
		to, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'to' date format"})
			return
		}

		readings, err := s.db.GetReadingsByRange(from, to)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, readings)
		return
	}

	readings, err := s.db.GetReadingsWithLimit(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, readings)
}

func (s *Server) latestReadingHandler(c *gin.Context) {
	reading, err := s.db.GetLatestReading()
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, reading)
}

func (s *Server) summariesHandler(c *gin.Context) {
	summaries, err := s.db.GetDailySummaries(queryLimit(c, 50, 1000))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summaries)
}

func (s *Server) dailyStatsHandler(c *gin.Context) {
	dateStr := c.DefaultQuery("date", time.Now().Format("2006-01-02"))
	date, err := time.ParseInLocation("2006-01-02", dateStr, time.Local)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid date format"})
		return
	}

	stats, err := s.db.GetDailyStats(date)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, stats)
}

func queryLimit(c *gin.Context, def, upper int) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if err != nil || limit <= 0 || limit > upper {
		return def
	}
	return limit
}
