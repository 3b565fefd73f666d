package http

import (
	"github.com/botpanel-dev/bot-panel-backend/internal/auth"
	"github.com/gin-gonic/gin"
)

// Register mounts the panel pages. throttle guards the credential forms and
// may be nil.
func (h *Handler) Register(r gin.IRouter, throttle gin.HandlerFunc) {
	if throttle == nil {
		throttle = func(c *gin.Context) { c.Next() }
	}

	r.GET("/", h.LoginPage)
	r.POST("/", throttle, h.Login)
	r.GET("/logout", h.Logout)

	pending := r.Group("/otp", auth.RequireStage(h.sessions, auth.StagePending))
	pending.GET("", h.OTPPage)
	pending.POST("", throttle, h.ConfirmOTP)

	user := r.Group("", auth.RequireUser(h.sessions))
	user.GET("/dashboard", h.Dashboard)
	user.POST("/upload", h.Upload)
	user.GET("/startbot/:name", h.StartBot)
	user.GET("/stopbot/:name", h.StopBot)
	user.GET("/editbot/:name", h.EditPage)
	user.POST("/editbot/:name", h.SaveBot)
	user.GET("/logs/:name", h.Logs)
}
