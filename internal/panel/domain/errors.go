package domain

import "errors"

var (
	ErrUnauthorized       = errors.New("not authorized")
	ErrInvalidLogin       = errors.New("malformed login input")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrOTPMismatch        = errors.New("otp does not match")
	ErrNotApproved        = errors.New("access not approved yet")
)
