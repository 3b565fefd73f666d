package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/botpanel-dev/bot-panel-backend/internal/auth"
	"github.com/botpanel-dev/bot-panel-backend/internal/panel/domain"
	"github.com/gin-gonic/gin"
)

// LoginPage skips the form for callers that already hold a session.
func (h *Handler) LoginPage(c *gin.Context) {
	if claims, err := h.sessions.Read(c); err == nil && claims.Stage == auth.StageUser {
		c.Redirect(http.StatusFound, "/dashboard")
		return
	}
	h.render(c, http.StatusOK, "login", page{Title: "Sign in"})
}

func (h *Handler) Login(c *gin.Context) {
	rawID := c.PostForm("tgid")
	remember := c.PostForm("remember") != ""

	res, err := h.svc.Login(c.Request.Context(), rawID, c.PostForm("password"))
	switch {
	case errors.Is(err, domain.ErrInvalidLogin):
		h.render(c, http.StatusOK, "login", page{Title: "Sign in", UserID: strings.TrimSpace(rawID)})
		return
	case errors.Is(err, domain.ErrInvalidCredentials):
		h.render(c, http.StatusUnauthorized, "login", page{
			Title:  "Sign in",
			Error:  "Invalid Telegram ID or password.",
			UserID: strings.TrimSpace(rawID),
		})
		return
	case err != nil:
		h.respondError(c, "Login", err)
		return
	}

	if res.Outcome == domain.LoginNeedsOTP {
		if err := h.sessions.Issue(c, res.UserID, auth.StagePending, remember); err != nil {
			h.respondError(c, "Login", err)
			return
		}
		c.Redirect(http.StatusFound, "/otp")
		return
	}

	if err := h.sessions.Issue(c, res.UserID, auth.StageUser, remember); err != nil {
		h.respondError(c, "Login", err)
		return
	}
	c.Redirect(http.StatusFound, "/dashboard")
}

func (h *Handler) OTPPage(c *gin.Context) {
	h.render(c, http.StatusOK, "otp", page{Title: "Verify"})
}

func (h *Handler) ConfirmOTP(c *gin.Context) {
	claims, ok := auth.SessionClaims(c)
	if !ok {
		c.Redirect(http.StatusFound, "/")
		return
	}

	err := h.svc.ConfirmOTP(c.Request.Context(), claims.UserID, c.PostForm("otp"))
	if errors.Is(err, domain.ErrOTPMismatch) {
		h.render(c, http.StatusUnauthorized, "otp", page{Title: "Verify", Error: "That code is not valid."})
		return
	}
	if err != nil {
		h.respondError(c, "ConfirmOTP", err)
		return
	}

	if err := h.sessions.Issue(c, claims.UserID, auth.StageUser, claims.Remember); err != nil {
		h.respondError(c, "ConfirmOTP", err)
		return
	}
	c.Redirect(http.StatusFound, "/dashboard")
}

func (h *Handler) Logout(c *gin.Context) {
	h.sessions.Clear(c)
	c.Redirect(http.StatusFound, "/")
}

func currentUser(c *gin.Context) (int64, error) {
	id, ok := auth.UserID(c)
	if !ok {
		return 0, domain.ErrUnauthorized
	}
	return id, nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
