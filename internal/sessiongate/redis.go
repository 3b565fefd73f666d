package sessiongate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	otpKeyPrefix      = "panel:otp:"      // panel:otp:{user_id} -> code
	approvedKeyPrefix = "panel:approved:" // panel:approved:{user_id} -> "1"
)

// Redis keeps gate entries across panel restarts. A zero otpTTL stores codes
// without expiry.
type Redis struct {
	client *redis.Client
	otpTTL time.Duration
}

func NewRedis(client *redis.Client, otpTTL time.Duration) *Redis {
	return &Redis{client: client, otpTTL: otpTTL}
}

func (r *Redis) SetOTP(ctx context.Context, userID int64, code string) error {
	if err := r.client.Set(ctx, otpKey(userID), code, r.otpTTL).Err(); err != nil {
		return fmt.Errorf("failed to store otp: %w", err)
	}
	return nil
}

func (r *Redis) PeekOTP(ctx context.Context, userID int64) (string, bool, error) {
	code, err := r.client.Get(ctx, otpKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read otp: %w", err)
	}
	return code, true, nil
}

func (r *Redis) ClearOTP(ctx context.Context, userID int64) error {
	if err := r.client.Del(ctx, otpKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to clear otp: %w", err)
	}
	return nil
}

func (r *Redis) SetApproved(ctx context.Context, userID int64) error {
	if err := r.client.Set(ctx, approvedKey(userID), "1", 0).Err(); err != nil {
		return fmt.Errorf("failed to store approval: %w", err)
	}
	return nil
}

func (r *Redis) IsApproved(ctx context.Context, userID int64) (bool, error) {
	n, err := r.client.Exists(ctx, approvedKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read approval: %w", err)
	}
	return n == 1, nil
}

func otpKey(userID int64) string {
	return fmt.Sprintf("%s%d", otpKeyPrefix, userID)
}

func approvedKey(userID int64) string {
	return fmt.Sprintf("%s%d", approvedKeyPrefix, userID)
}
