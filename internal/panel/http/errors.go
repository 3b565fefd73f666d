package http

import (
	"errors"
	"net/http"

	artifacts "github.com/botpanel-dev/bot-panel-backend/internal/artifacts/domain"
	"github.com/botpanel-dev/bot-panel-backend/internal/logging"
	"github.com/botpanel-dev/bot-panel-backend/internal/panel/domain"
	"github.com/botpanel-dev/bot-panel-backend/internal/supervisor"
	"github.com/gin-gonic/gin"
)

// respondError maps service errors to a page. Authorization failures go back
// to the login form without saying why.
func (h *Handler) respondError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		c.Redirect(http.StatusFound, "/")
	case errors.Is(err, domain.ErrNotApproved):
		h.render(c, http.StatusForbidden, "approval", page{Title: "Approval"})
	case errors.Is(err, artifacts.ErrCapacityExceeded):
		h.message(c, http.StatusConflict, "Slot full (max 3 bots).")
	case errors.Is(err, artifacts.ErrPayloadTooLarge):
		h.message(c, http.StatusRequestEntityTooLarge, "File too large (max 1 MiB).")
	case errors.Is(err, artifacts.ErrInvalidName):
		h.message(c, http.StatusBadRequest, "Invalid file name.")
	case errors.Is(err, artifacts.ErrUnsafeArchive):
		h.message(c, http.StatusBadRequest, "Archive rejected: it contains unsafe entries.")
	case errors.Is(err, artifacts.ErrInvalidArchive):
		h.message(c, http.StatusBadRequest, "Archive could not be read.")
	case errors.Is(err, artifacts.ErrNotFound):
		h.message(c, http.StatusNotFound, "Bot not found.")
	case errors.Is(err, supervisor.ErrSpawnFailed):
		h.message(c, http.StatusInternalServerError, "Bot could not be started. Check its logs.")
	default:
		logging.NewLogger(c.Request.Context()).Error(op, err)
		h.message(c, http.StatusInternalServerError, "Something went wrong. Please try again.")
	}
}

func (h *Handler) message(c *gin.Context, status int, msg string) {
	h.render(c, status, "message", page{Title: "Notice", Message: msg})
}
