package bootstrap

import (
	"time"

	httpapi "github.com/botpanel-dev/bot-panel-backend/internal/api/http"
	"github.com/botpanel-dev/bot-panel-backend/internal/api/http/middleware"
	"github.com/botpanel-dev/bot-panel-backend/internal/metrics"
	panelhttp "github.com/botpanel-dev/bot-panel-backend/internal/panel/http"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const maxMultipartMemory = 4 << 20

type RouterDeps struct {
	ServiceName    string
	Version        string
	AllowedOrigins []string
	Health         httpapi.HealthDeps
	Metrics        *metrics.Metrics
	Panel          *panelhttp.Handler
	// LoginLimiter throttles the credential forms; nil disables it.
	LoginLimiter *middleware.IPRateLimiter
}

func BuildRouter(dep RouterDeps) *gin.Engine {
	r := gin.New()
	r.MaxMultipartMemory = maxMultipartMemory
	r.Use(gin.Recovery(), middleware.RequestIDMiddleware())

	if len(dep.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     dep.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST"},
			AllowHeaders:     []string{"Origin", "Content-Type", middleware.HeaderRequestID},
			ExposeHeaders:    []string{middleware.HeaderRequestID},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	healthHandler := httpapi.NewHealthHandler(dep.ServiceName, dep.Version, dep.Health)
	healthHandler.RegisterRoutes(r)

	if dep.Metrics != nil {
		r.GET("/metrics", gin.WrapH(dep.Metrics.Handler()))
	}

	var throttle gin.HandlerFunc
	if dep.LoginLimiter != nil {
		throttle = dep.LoginLimiter.Middleware()
	}
	dep.Panel.Register(r, throttle)

	return r
}
