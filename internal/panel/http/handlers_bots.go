package http

import (
	"errors"
	"net/http"

	artifacts "github.com/botpanel-dev/bot-panel-backend/internal/artifacts/domain"
	"github.com/botpanel-dev/bot-panel-backend/internal/supervisor"
	"github.com/gin-gonic/gin"
)

// maxFormBody leaves room for multipart framing around a full-size artifact.
const maxFormBody = artifacts.MaxArtifactSize + 64<<10

func (h *Handler) Dashboard(c *gin.Context) {
	uid, err := currentUser(c)
	if err != nil {
		h.respondError(c, "Dashboard", err)
		return
	}

	dash, err := h.svc.Dashboard(c.Request.Context(), uid)
	if err != nil {
		h.respondError(c, "Dashboard", err)
		return
	}

	h.render(c, http.StatusOK, "dashboard", page{Title: "Dashboard", UserID: formatID(uid), Dashboard: dash})
}

func (h *Handler) Upload(c *gin.Context) {
	uid, err := currentUser(c)
	if err != nil {
		h.respondError(c, "Upload", err)
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxFormBody)
	fh, err := c.FormFile("botfile")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			h.respondError(c, "Upload", artifacts.ErrPayloadTooLarge)
			return
		}
		h.message(c, http.StatusBadRequest, "No file.")
		return
	}

	f, err := fh.Open()
	if err != nil {
		h.respondError(c, "Upload", err)
		return
	}
	defer f.Close()

	if _, err := h.svc.Upload(c.Request.Context(), uid, fh.Filename, f, fh.Size); err != nil {
		h.respondError(c, "Upload", err)
		return
	}
	c.Redirect(http.StatusFound, "/dashboard")
}

func (h *Handler) StartBot(c *gin.Context) {
	uid, err := currentUser(c)
	if err != nil {
		h.respondError(c, "StartBot", err)
		return
	}

	if err := h.svc.StartBot(c.Request.Context(), uid, c.Param("name")); err != nil {
		h.respondError(c, "StartBot", err)
		return
	}
	c.Redirect(http.StatusFound, "/dashboard")
}

func (h *Handler) StopBot(c *gin.Context) {
	uid, err := currentUser(c)
	if err != nil {
		h.respondError(c, "StopBot", err)
		return
	}

	if _, err := h.svc.StopBot(c.Request.Context(), uid, c.Param("name")); err != nil {
		h.respondError(c, "StopBot", err)
		return
	}
	c.Redirect(http.StatusFound, "/dashboard")
}

func (h *Handler) EditPage(c *gin.Context) {
	uid, err := currentUser(c)
	if err != nil {
		h.respondError(c, "EditBot", err)
		return
	}

	key := c.Param("name")
	code, err := h.svc.ReadBot(c.Request.Context(), uid, key)
	if err != nil {
		h.respondError(c, "EditBot", err)
		return
	}
	h.render(c, http.StatusOK, "edit", page{Title: "Edit", Key: key, Code: code})
}

func (h *Handler) SaveBot(c *gin.Context) {
	uid, err := currentUser(c)
	if err != nil {
		h.respondError(c, "SaveBot", err)
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxFormBody)
	if err := c.Request.ParseForm(); err != nil {
		h.respondError(c, "SaveBot", artifacts.ErrPayloadTooLarge)
		return
	}

	if err := h.svc.SaveBot(c.Request.Context(), uid, c.Param("name"), c.PostForm("code")); err != nil {
		h.respondError(c, "SaveBot", err)
		return
	}
	c.Redirect(http.StatusFound, "/dashboard")
}

func (h *Handler) Logs(c *gin.Context) {
	uid, err := currentUser(c)
	if err != nil {
		h.respondError(c, "Logs", err)
		return
	}

	key := c.Param("name")
	out, err := h.svc.BotLogs(c.Request.Context(), uid, key)
	if err != nil && !errors.Is(err, supervisor.ErrNoLogs) {
		h.respondError(c, "Logs", err)
		return
	}
	h.render(c, http.StatusOK, "logs", page{Title: "Logs", Key: key, Output: string(out)})
}
