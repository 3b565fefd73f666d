package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
)

const (
	CookieName = "panel_session"

	pendingLifetime = 15 * time.Minute
)

// Stage separates a half-finished login (password accepted, OTP pending)
// from a full session.
type Stage string

const (
	StagePending Stage = "pending"
	StageUser    Stage = "user"
)

var ErrNoSession = errors.New("no valid session")

type Claims struct {
	UserID int64 `json:"uid"`
	Stage  Stage `json:"stage"`
	// Remember carries the login checkbox through the OTP step.
	Remember bool `json:"rem,omitempty"`
	jwt.RegisteredClaims
}

// Sessions issues and verifies HS256-signed session cookies.
type Sessions struct {
	secret   []byte
	lifetime time.Duration
	secure   bool
	now      func() time.Time
}

func NewSessions(secret string, lifetime time.Duration, secure bool) *Sessions {
	if lifetime <= 0 {
		lifetime = 7 * 24 * time.Hour
	}
	return &Sessions{
		secret:   []byte(secret),
		lifetime: lifetime,
		secure:   secure,
		now:      time.Now,
	}
}

// Issue writes the session cookie. A remembered user session persists for
// the configured lifetime; otherwise the cookie ends with the browser.
func (s *Sessions) Issue(c *gin.Context, userID int64, stage Stage, remember bool) error {
	token, maxAge, err := s.sign(userID, stage, remember)
	if err != nil {
		return err
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, token, maxAge, "/", "", s.secure, true)
	return nil
}

func (s *Sessions) sign(userID int64, stage Stage, remember bool) (string, int, error) {
	ttl := s.lifetime
	if stage == StagePending {
		ttl = pendingLifetime
	}

	now := s.now()
	claims := Claims{
		UserID:   userID,
		Stage:    stage,
		Remember: remember,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", 0, fmt.Errorf("sign session: %w", err)
	}

	maxAge := 0
	if remember && stage == StageUser {
		maxAge = int(ttl / time.Second)
	}
	return token, maxAge, nil
}

// Read returns the claims of a valid session cookie.
func (s *Sessions) Read(c *gin.Context) (*Claims, error) {
	raw, err := c.Cookie(CookieName)
	if err != nil || raw == "" {
		return nil, ErrNoSession
	}
	return s.parse(raw)
}

func (s *Sessions) parse(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrNoSession
	}
	if claims.UserID <= 0 || (claims.Stage != StagePending && claims.Stage != StageUser) {
		return nil, ErrNoSession
	}
	return claims, nil
}

// Clear expires the session cookie.
func (s *Sessions) Clear(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, "", -1, "/", "", s.secure, true)
}
