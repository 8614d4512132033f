// Package api provides the read-only HTTP introspection API: server
// statistics, cache and zone contents, recent queries, and Prometheus
// metrics. Gin-based; disabled unless an address is configured.
//
// Security note: do not expose the API to untrusted networks.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/labdns/labdnsd/internal/cache"
	"github.com/labdns/labdnsd/internal/eventbus"
	"github.com/labdns/labdnsd/internal/zone"
)

// Deps are the read-only views the API exposes.
type Deps struct {
	Zones  *zone.Store
	Cache  *cache.Cache
	Bus    *eventbus.Bus
	Logger *slog.Logger
}

// Server is the HTTP introspection server.
type Server struct {
	deps       Deps
	engine     *gin.Engine
	httpServer *http.Server
	recent     *recentRing
	startTime  time.Time
}

// New builds the server and subscribes to query events. Call Serve to
// start listening and Shutdown to stop.
func New(ctx context.Context, addr string, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		deps:      deps,
		engine:    engine,
		recent:    newRecentRing(128),
		startTime: time.Now(),
	}
	s.recent.follow(deps.Bus.Subscribe(ctx, eventbus.TopicQuery))

	api := engine.Group("/api")
	api.GET("/health", s.health)
	api.GET("/stats", s.stats)
	api.GET("/cache", s.cacheDump)
	api.GET("/zone", s.zoneDump)
	api.GET("/recent", s.recentQueries)

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return s
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) Serve() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"uptime_seconds": time.Since(s.startTime).Seconds(),
		"cache":          s.deps.Cache.GetStats(),
		"zone":           s.deps.Zones.GetStats(),
	})
}

func (s *Server) cacheDump(c *gin.Context) {
	records := s.deps.Cache.Snapshot()
	out := make([]string, 0, len(records))
	for _, rr := range records {
		out = append(out, rr.String())
	}
	c.JSON(http.StatusOK, gin.H{"records": out})
}

func (s *Server) zoneDump(c *gin.Context) {
	records := s.deps.Zones.AllRecords()
	out := make([]string, 0, len(records))
	for _, rr := range records {
		out = append(out, rr.String())
	}
	c.JSON(http.StatusOK, gin.H{"records": out})
}

func (s *Server) recentQueries(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"queries": s.recent.list()})
}
