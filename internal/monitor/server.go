// Package monitor serves a read-only HTTP view of the live session: current
// readings, run history and a websocket feed of the stream.
package monitor

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/inkley/sensorctl/internal/repository"
	"github.com/inkley/sensorctl/internal/sensor"
	"github.com/inkley/sensorctl/pkg/logger"
)

type Server struct {
	ctrl *sensor.Controller
	runs *repository.RunRepository
	hub  *Hub
	srv  *http.Server
}

func NewServer(ctrl *sensor.Controller, runs *repository.RunRepository, hub *Hub) *Server {
	return &Server{ctrl: ctrl, runs: runs, hub: hub}
}

// router assembles the API routes.
func (s *Server) router() *gin.Engine {
	// No gin request logger: the interactive shell owns stdout.
	r := gin.New()
	r.Use(gin.Recovery())

	apiGroup := r.Group("/api/v1")
	{
		apiGroup.GET("/status", s.getStatus)
		apiGroup.GET("/readings", s.getReadings)
		apiGroup.GET("/runs", s.listRuns)
	}
	r.GET("/ws", s.hub.HandleWS)
	return r
}

// Start brings the HTTP listener up in the background.
func (s *Server) Start(listen, mode string) {
	if mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	s.srv = &http.Server{Addr: listen, Handler: s.router()}
	go func() {
		logger.Log.Infof("Monitor listening on %s", listen)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Errorf("Monitor server failed: %v", err)
		}
	}()
}

// Stop shuts the listener down, waiting for in-flight requests up to the
// context deadline.
func (s *Server) Stop(ctx context.Context) {
	if s.srv == nil {
		return
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		logger.Log.Warnf("Monitor shutdown: %v", err)
	}
}

func (s *Server) getStatus(c *gin.Context) {
	resp := gin.H{
		"state":      s.ctrl.State().String(),
		"channel":    s.ctrl.Device(),
		"streaming":  s.ctrl.Streaming(),
		"ws_clients": s.hub.ClientCount(),
	}
	if v, ok := s.ctrl.CachedVersion(); ok {
		resp["firmware_version"] = v.String()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getReadings(c *gin.Context) {
	latest := s.ctrl.Latest()
	readings := make([]sensor.Reading, 0, len(latest))
	for _, ch := range sensor.Channels {
		if r, ok := latest[ch]; ok {
			readings = append(readings, r)
		}
	}
	c.JSON(http.StatusOK, gin.H{"readings": readings})
}

func (s *Server) listRuns(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		limit = 20
	}
	runs, err := s.runs.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}
