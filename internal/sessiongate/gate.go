// Package sessiongate holds one-time login codes and the chat-approved
// flag per user. Entries are last-write-wins.
package sessiongate

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
)

type Gate interface {
	SetOTP(ctx context.Context, userID int64, code string) error
	// PeekOTP reports the pending code without consuming it.
	PeekOTP(ctx context.Context, userID int64) (string, bool, error)
	ClearOTP(ctx context.Context, userID int64) error
	SetApproved(ctx context.Context, userID int64) error
	IsApproved(ctx context.Context, userID int64) (bool, error)
}

var otpRange = big.NewInt(900000)

// NewOTP returns a random six digit code.
func NewOTP() (string, error) {
	n, err := rand.Int(rand.Reader, otpRange)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
