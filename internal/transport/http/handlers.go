package http

import (
	"net/http"
	"time"

	"github.com/dkeye/duplex-relay/internal/app"
	"github.com/dkeye/duplex-relay/internal/app/orch"
	"github.com/gin-gonic/gin"
)

type HealthResponse struct {
	Status   string             `json:"status"`
	Server   string             `json:"server"`
	Uptime   string             `json:"uptime"`
	Open     int                `json:"open_connections"`
	Registry app.Snapshot       `json:"registry"`
	Stats    orch.StatsSnapshot `json:"stats"`
	Time     time.Time          `json:"timestamp"`
}

// Handlers serves read-only views of the relay state.
type Handlers struct {
	Orch    *orch.Orchestrator
	Started time.Time
}

func NewHandlers(o *orch.Orchestrator) *Handlers {
	return &Handlers{Orch: o, Started: time.Now()}
}

func (h *Handlers) Register(r gin.IRoutes) {
	r.GET("/health", h.handleHealth)
	r.GET("/api/status", h.handleStatus)
}

func (h *Handlers) handleHealth(c *gin.Context) {
	now := time.Now()
	c.JSON(http.StatusOK, HealthResponse{
		Status:   "ok",
		Server:   h.Orch.Opts.ServerName,
		Uptime:   now.Sub(h.Started).Round(time.Second).String(),
		Open:     len(h.Orch.Live()),
		Registry: h.Orch.Registry.Snapshot(),
		Stats:    h.Orch.Stats.Snapshot(),
		Time:     now,
	})
}

func (h *Handlers) handleStatus(c *gin.Context) {
	snap := h.Orch.Registry.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"type":      "user_status",
		"users":     snap.Users,
		"sessions":  snap.Sessions,
		"timestamp": time.Now(),
	})
}
