package domain

import (
	"time"

	artifacts "github.com/botpanel-dev/bot-panel-backend/internal/artifacts/domain"
)

// MaxPasswordLength is the longest password bcrypt accepts.
const MaxPasswordLength = 72

type LoginOutcome string

const (
	// LoginNeedsOTP means a code was sent and must be confirmed.
	LoginNeedsOTP LoginOutcome = "otp"
	// LoginSession means the caller may receive a full session.
	LoginSession LoginOutcome = "session"
)

type LoginResult struct {
	UserID  int64
	Outcome LoginOutcome
}

// BotView is one dashboard row.
type BotView struct {
	Key        string
	Name       string
	Size       int64
	UploadedAt time.Time
	Status     string
}

func (b BotView) Running() bool {
	return b.Status == "RUNNING"
}

type Dashboard struct {
	UserID    int64
	Bots      []BotView
	FreeSlots int
	// Recent lists the latest uploads, newest first.
	Recent []artifacts.UploadRecord
}
