package users

import (
	"errors"
	"time"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")
)

// Account is a panel login keyed by the user's chat id.
type Account struct {
	ID           int64
	PasswordHash string
	Verified     bool
	CreatedAt    time.Time
	VerifiedAt   *time.Time
}
