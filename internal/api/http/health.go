package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger is satisfied by *pgxpool.Pool; other stores wrap their ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Service     string    `json:"service"`
	Version     string    `json:"version"`
	DB          string    `json:"db,omitempty"`
	Redis       string    `json:"redis,omitempty"`
	Tunnel      string    `json:"tunnel,omitempty"`
	RunningBots int       `json:"running_bots"`
}

type HealthDeps struct {
	DB    Pinger
	Redis Pinger
	// PublicURL reports the tunnel address, empty while it is starting.
	PublicURL func() string
	Running   func() int
}

type HealthHandler struct {
	serviceName string
	version     string
	deps        HealthDeps
}

func NewHealthHandler(serviceName, version string, deps HealthDeps) *HealthHandler {
	return &HealthHandler{
		serviceName: serviceName,
		version:     version,
		deps:        deps,
	}
}

// HealthCheck always answers 200; a down dependency degrades the status.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Service:   h.serviceName,
		Version:   h.version,
		DB:        ping(c.Request.Context(), h.deps.DB),
		Redis:     ping(c.Request.Context(), h.deps.Redis),
	}
	if resp.DB == "down" || resp.Redis == "down" {
		resp.Status = "degraded"
	}

	if h.deps.PublicURL != nil {
		resp.Tunnel = "starting"
		if u := h.deps.PublicURL(); u != "" {
			resp.Tunnel = u
		}
	}
	if h.deps.Running != nil {
		resp.RunningBots = h.deps.Running()
	}

	c.JSON(http.StatusOK, resp)
}

func ping(ctx context.Context, p Pinger) string {
	if p == nil {
		return "disabled"
	}

	pingCtx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	if err := p.Ping(pingCtx); err != nil {
		return "down"
	}
	return "up"
}

func (h *HealthHandler) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", h.HealthCheck)
	r.GET("/healthz", h.HealthCheck)
}
