package http

import (
	"embed"
	"fmt"
	"html/template"

	"github.com/botpanel-dev/bot-panel-backend/internal/auth"
	"github.com/botpanel-dev/bot-panel-backend/internal/panel/domain"
	"github.com/botpanel-dev/bot-panel-backend/internal/panel/service"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
)

//go:embed templates/*.html
var templatesFS embed.FS

// page is the data passed to every template.
type page struct {
	Title     string
	Error     string
	Message   string
	UserID    string
	Key       string
	Code      string
	Output    string
	Dashboard *domain.Dashboard
}

type Handler struct {
	svc      *service.PanelService
	sessions *auth.Sessions
	tmpl     *template.Template
}

func NewHandler(svc *service.PanelService, sessions *auth.Sessions) (*Handler, error) {
	tmpl, err := template.New("panel").Funcs(template.FuncMap{
		"kib": func(n int64) string { return fmt.Sprintf("%.1f KiB", float64(n)/1024) },
	}).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	return &Handler{
		svc:      svc,
		sessions: sessions,
		tmpl:     tmpl,
	}, nil
}

func (h *Handler) render(c *gin.Context, status int, name string, data page) {
	c.Render(status, render.HTML{Template: h.tmpl, Name: name, Data: data})
}
