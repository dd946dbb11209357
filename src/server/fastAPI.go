package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"upbit-observer/src/logger"
	"upbit-observer/src/models"
)

// -----------------------------------------------------------------------------
// FastAPIServer
//
// HTTP read API plus websocket fan-out for merged trades, snapshots and
// connection status events.
// -----------------------------------------------------------------------------

// StatsProvider is the read-only view the server takes over the aggregator.
type StatsProvider interface {
	GetTopMarkets(n int, now time.Time) []models.MMarketStats
	GetSectorBreakdown() []models.MSectorVolume
	GetSnapshotHistory() []models.MSnapshot
}

// DebugProvider exposes the rate-limit observability structure.
type DebugProvider interface {
	DebugInfo() []models.MRateLimitDebug
}

// HistoryProvider serves per-symbol merged trade history.
type HistoryProvider interface {
	GetHistory(symbol string) []models.MMergedTrade
	GetLatest() map[string]models.MMergedTrade
}

// -----------------------------------------------------------------------------

type FastAPIServer struct {
	Config  *models.MConfig
	Logger  *logger.Logger
	Stats   StatsProvider
	Debug   DebugProvider
	History HistoryProvider

	// Metrics assembles pipeline counters. Optional; set by the composition
	// root after construction.
	Metrics func() models.MPipelineMetrics

	engine *gin.Engine
	srv    *http.Server

	// WebSocket clients
	clients    map[*Client]struct{}
	broadcast  chan models.MPushEvent
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	// Local cache
	latestSnapshot *models.MSnapshot
	latestStatus   *models.MStatusChange
	stateMutex     sync.RWMutex
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewFastAPIServer(cfg *models.MConfig, log *logger.Logger, stats StatsProvider, debug DebugProvider, history HistoryProvider) *FastAPIServer {
	if !strings.EqualFold(cfg.LogLevel, "DEBUG") {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &FastAPIServer{
		Config:  cfg,
		Logger:  log,
		Stats:   stats,
		Debug:   debug,
		History: history,
		engine:  gin.Default(),
		clients: make(map[*Client]struct{}),
		// Buffered channel to absorb bursts without blocking producers
		broadcast:  make(chan models.MPushEvent, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}

	// CORS for local dashboards
	s.engine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if strings.HasPrefix(origin, "http://127.0.0.1:") || strings.HasPrefix(origin, "http://localhost:") {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	s.setupRoutes()
	return s
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *FastAPIServer) setupRoutes() {
	// REST API endpoints
	s.engine.GET("/api/health", s.getHealth)
	s.engine.GET("/api/metrics", s.getMetrics)
	s.engine.GET("/api/debug", s.getDebug)
	s.engine.GET("/api/snapshot", s.getSnapshot)
	s.engine.GET("/api/snapshots", s.getSnapshotHistory)
	s.engine.GET("/api/markets", s.getMarkets)
	s.engine.GET("/api/sectors", s.getSectors)
	s.engine.GET("/api/trades/latest", s.getLatestTrades)
	s.engine.GET("/api/trades/:symbol", s.getTradeHistory)

	// WebSocket endpoint
	s.engine.GET("/ws", s.handleWebSocket)
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

func (s *FastAPIServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Config.Host, s.Config.Port)
	s.Logger.Info("Starting server on %s", addr)

	go s.handleWebsockets()

	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.engine,
	}
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) Stop() error {
	close(s.done)
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// -----------------------------------------------------------------------------
// Route Handlers
// -----------------------------------------------------------------------------

func (s *FastAPIServer) getHealth(c *gin.Context) {
	s.stateMutex.RLock()
	connections := len(s.clients)
	var latestUpdate int64
	if s.latestSnapshot != nil {
		latestUpdate = s.latestSnapshot.Timestamp.UnixMilli()
	}
	var feedStatus string
	if s.latestStatus != nil {
		feedStatus = string(s.latestStatus.Status)
	}
	s.stateMutex.RUnlock()

	c.JSON(200, gin.H{
		"status":        "ok",
		"connections":   connections,
		"feed_status":   feedStatus,
		"latest_update": latestUpdate,
	})
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		c.JSON(200, models.MPipelineMetrics{})
		return
	}
	c.JSON(200, s.Metrics())
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) getDebug(c *gin.Context) {
	c.JSON(200, gin.H{
		"rate_limits": s.Debug.DebugInfo(),
	})
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) getSnapshot(c *gin.Context) {
	s.stateMutex.RLock()
	snapshot := s.latestSnapshot
	s.stateMutex.RUnlock()

	if snapshot == nil {
		c.JSON(404, gin.H{"error": "no snapshot yet"})
		return
	}
	c.JSON(200, snapshot)
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) getSnapshotHistory(c *gin.Context) {
	c.JSON(200, s.Stats.GetSnapshotHistory())
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) getMarkets(c *gin.Context) {
	c.JSON(200, s.Stats.GetTopMarkets(s.Config.Pipeline.TopN, time.Now()))
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) getSectors(c *gin.Context) {
	c.JSON(200, s.Stats.GetSectorBreakdown())
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) getLatestTrades(c *gin.Context) {
	if s.History == nil {
		c.JSON(404, gin.H{"error": "trade history disabled"})
		return
	}
	c.JSON(200, s.History.GetLatest())
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) getTradeHistory(c *gin.Context) {
	if s.History == nil {
		c.JSON(404, gin.H{"error": "trade history disabled"})
		return
	}

	history := s.History.GetHistory(c.Param("symbol"))
	if history == nil {
		c.JSON(404, gin.H{"error": "unknown symbol"})
		return
	}
	c.JSON(200, history)
}
