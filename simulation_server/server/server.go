// Package server exposes the engine over HTTP: a state endpoint, a control
// endpoint, and a combined state+log SSE stream for rendering clients.
package server

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/avasek/townsim/simulation_server/engine"
	"github.com/avasek/townsim/simulation_server/world"

	"github.com/gin-gonic/gin"
)

type Server struct {
	engine *engine.Engine
	log    *slog.Logger
	router *gin.Engine
}

func New(eng *engine.Engine, log *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		engine: eng,
		log:    log,
		router: gin.New(),
	}
	s.router.Use(gin.Recovery())

	api := s.router.Group("/api")
	api.GET("/state", s.getState)
	api.POST("/control", s.control)
	api.GET("/stream", s.stream)

	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) Run(addr string) error {
	s.log.Info("http_listen", slog.String("type", "http"), slog.String("addr", addr))
	return s.router.Run(addr)
}

type stateMeta struct {
	TickRateMs      int64 `json:"tickRate"`
	IsPaused        bool  `json:"isPaused"`
	IsRunning       bool  `json:"isRunning"`
	SubscriberCount int   `json:"subscriberCount"`
}

func (s *Server) meta() stateMeta {
	return stateMeta{
		TickRateMs:      s.engine.TickRate().Milliseconds(),
		IsPaused:        s.engine.IsPaused(),
		IsRunning:       s.engine.IsRunning(),
		SubscriberCount: s.engine.SubscriberCount(),
	}
}

func (s *Server) getState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state": s.engine.Snapshot(),
		"meta":  s.meta(),
	})
}

type controlRequest struct {
	Action string `json:"action" binding:"required"`
}

func (s *Server) control(c *gin.Context) {
	var req controlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "action is required"})
		return
	}

	switch req.Action {
	case "pause":
		s.engine.Pause()
	case "unpause":
		s.engine.Unpause()
	case "toggle":
		s.engine.TogglePause()
	case "start":
		if err := s.engine.Start(); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
	case "stop":
		s.engine.Stop()
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown action " + req.Action})
		return
	}

	s.log.Info("control",
		slog.String("type", "http"),
		slog.String("action", req.Action),
	)
	c.JSON(http.StatusOK, gin.H{
		"isPaused":  s.engine.IsPaused(),
		"isRunning": s.engine.IsRunning(),
	})
}

type streamEvent struct {
	Type string `json:"type"` // "state" or "log"
	Data any    `json:"data"`
}

// stream serves SSE. The first event is the current state (delivered by the
// engine on subscribe); after that every tick snapshot and activity log entry
// follows. A client that cannot keep up loses events rather than stalling
// the tick loop.
func (s *Server) stream(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	events := make(chan streamEvent, 64)

	unsubState := s.engine.Subscribe(func(ws *world.WorldState) {
		select {
		case events <- streamEvent{Type: "state", Data: ws}:
		default:
		}
	})
	defer unsubState()

	unsubLogs := s.engine.SubscribeToLogs(func(entry world.ActivityLogEntry) {
		select {
		case events <- streamEvent{Type: "log", Data: entry}:
		default:
		}
	})
	defer unsubLogs()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev := <-events:
			c.SSEvent("message", ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
