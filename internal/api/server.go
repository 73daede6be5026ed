// Package api implements the management HTTP API (spec.md §6 "inbound
// API") with gin-gonic/gin, the way the teacher's router package wraps gin
// for its own HTTP surfaces. Every handler is read-mostly: stream lifecycle
// control defers to streammanager.Manager, which already serializes control
// operations per stream.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/trakbridge/trakbridge/internal/cotservice"
	"github.com/trakbridge/trakbridge/internal/db"
	"github.com/trakbridge/trakbridge/internal/logging"
	"github.com/trakbridge/trakbridge/internal/plugin"
	"github.com/trakbridge/trakbridge/internal/procstats"
	"github.com/trakbridge/trakbridge/internal/streammanager"
)

// Server wires gin routes to the Stream Manager, Repository and CoT Service.
type Server struct {
	engine  *gin.Engine
	mgr     *streammanager.Manager
	repo    *db.Repository
	cotSvc  *cotservice.Service
	registry *plugin.Registry
	log     logging.Logger
}

// New builds a Server with panic-recovery and structured access logging
// middleware (spec.md §6 "Gin access logging... one structured entry per
// request").
func New(mgr *streammanager.Manager, repo *db.Repository, cotSvc *cotservice.Service, registry *plugin.Registry, log logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{engine: engine, mgr: mgr, repo: repo, cotSvc: cotSvc, registry: registry, log: log}
	engine.Use(s.accessLog())

	engine.GET("/api/health", s.handleHealth)
	engine.POST("/streams/:id/start", s.handleStart)
	engine.POST("/streams/:id/stop", s.handleStop)
	engine.POST("/streams/:id/restart", s.handleRestart)
	engine.POST("/streams/:id/discover-trackers", s.handleDiscoverTrackers)
	engine.GET("/streams/:id/health", s.handleStreamHealth)

	return s
}

// Handler returns the underlying http.Handler for net/http.Server.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("api request", logging.Fields{
			"method": c.Request.Method, "path": c.Request.URL.Path,
			"status": c.Writer.Status(), "duration_ms": time.Since(start).Milliseconds(),
		})
	}
}

func streamIDParam(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stream id"})
		return 0, false
	}
	return id, true
}

// handleHealth implements spec.md §6 "GET /api/health": 200 when every
// running stream is error-free, 503 when any is errored.
func (s *Server) handleHealth(c *gin.Context) {
	active, errored := 0, 0
	for _, id := range s.mgr.ActiveStreamIDs() {
		m, ok := s.mgr.WorkerMetrics(id)
		if !ok {
			continue
		}
		active++
		if m.LastError != "" {
			errored++
		}
	}

	status := "healthy"
	code := http.StatusOK
	if errored > 0 {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	resp := gin.H{
		"status":  status,
		"streams": gin.H{"active": active, "errored": errored},
		"cot":     gin.H{"connections_open": s.cotSvc.ConnectionsOpen()},
	}
	if ps, err := procstats.Collect(); err == nil {
		resp["process"] = gin.H{
			"cpu_percent":    ps.CPUPercent,
			"mem_used_bytes": ps.MemUsedBytes,
			"mem_percent":    ps.MemPercent,
			"uptime_seconds": ps.UptimeSeconds,
		}
	} else {
		s.log.Warn("procstats collection failed", logging.Fields{"error": err.Error()})
	}

	c.JSON(code, resp)
}

func (s *Server) handleStart(c *gin.Context) {
	id, ok := streamIDParam(c)
	if !ok {
		return
	}
	if err := s.mgr.Start(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

func (s *Server) handleStop(c *gin.Context) {
	id, ok := streamIDParam(c)
	if !ok {
		return
	}
	if err := s.mgr.Stop(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (s *Server) handleRestart(c *gin.Context) {
	id, ok := streamIDParam(c)
	if !ok {
		return
	}
	if err := s.mgr.Restart(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "restarted"})
}

// discoverTrackersLimit bounds the sample returned to the UI (spec.md §6
// "up to N current locations").
const discoverTrackersLimit = 25

// handleDiscoverTrackers implements spec.md §6 "POST
// /streams/{id}/discover-trackers": fetches live from the plugin (not the
// queued frames) so the UI sees identifier fields before a stream is even
// started.
func (s *Server) handleDiscoverTrackers(c *gin.Context) {
	id, ok := streamIDParam(c)
	if !ok {
		return
	}

	snap, err := s.repo.LoadSnapshot(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	p, err := s.registry.New(snap.Stream.PluginType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	locations, err := p.Fetch(ctx, snap.PluginConfig)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if len(locations) > discoverTrackersLimit {
		locations = locations[:discoverTrackersLimit]
	}

	var fields []plugin.FieldMeta
	if mappable, ok := p.(plugin.CallsignMappable); ok {
		fields = mappable.AvailableIdentifierFields()
	}

	c.JSON(http.StatusOK, gin.H{"locations": locations, "identifier_fields": fields})
}

// handleStreamHealth implements spec.md §6 "GET /streams/{id}/health".
func (s *Server) handleStreamHealth(c *gin.Context) {
	id, ok := streamIDParam(c)
	if !ok {
		return
	}

	m, running := s.mgr.WorkerMetrics(id)
	if !running {
		c.JSON(http.StatusOK, gin.H{"running": false})
		return
	}

	stream, err := s.repo.Load(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	destinations := make([]gin.H, 0, len(stream.TAKServerIDs))
	for _, serverID := range stream.TAKServerIDs {
		qm, ok := s.cotSvc.QueueMetrics(serverID)
		if !ok {
			continue
		}
		destinations = append(destinations, gin.H{
			"tak_server_id": serverID,
			"queue_depth":   qm.Depth,
			"sent":          qm.Sent,
			"send_errors":   qm.SendErrors,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"running":      true,
		"last_poll":    m.LastPoll,
		"last_error":   m.LastError,
		"destinations": destinations,
	})
}
