package domain

import "errors"

var (
	ErrCapacityExceeded = errors.New("artifact slots full")
	ErrPayloadTooLarge  = errors.New("artifact too large")
	ErrNotFound         = errors.New("artifact not found")
	ErrInvalidName      = errors.New("invalid artifact name")
	ErrInvalidArchive   = errors.New("invalid archive")
	ErrUnsafeArchive    = errors.New("archive entry escapes owner namespace")
)
