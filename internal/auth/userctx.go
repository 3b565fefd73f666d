package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireStage lets the request through only with a session at the given
// stage. Everything else is sent back to the login page.
func RequireStage(s *Sessions, stage Stage) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := s.Read(c)
		if err != nil || claims.Stage != stage {
			c.Redirect(http.StatusFound, "/")
			c.Abort()
			return
		}

		c.Set(CtxUserID, claims.UserID)
		c.Set(CtxClaims, claims)
		c.Next()
	}
}

func RequireUser(s *Sessions) gin.HandlerFunc {
	return RequireStage(s, StageUser)
}
