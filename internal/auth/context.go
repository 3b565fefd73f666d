package auth

import (
	"github.com/gin-gonic/gin"
)

const (
	CtxUserID = "user_id"
	CtxClaims = "session_claims"
)

// UserID extracts the authenticated user id set by RequireStage.
func UserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(CtxUserID)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}

// SessionClaims returns the verified claims set by RequireStage.
func SessionClaims(c *gin.Context) (*Claims, bool) {
	v, ok := c.Get(CtxClaims)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok
}
