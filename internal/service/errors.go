package service

import "errors"

// Domain error kinds. Handlers translate these to HTTP statuses; client-facing
// messages stay generic so callers cannot enumerate accounts.
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserNotActive      = errors.New("user is not active")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	ErrTokenExpired       = errors.New("token has expired")
	ErrTokenNotFound      = errors.New("token not found")
	ErrInvalidToken       = errors.New("invalid token")
	ErrActiveOTPExists    = errors.New("an active code already exists")
	ErrInvalidOTP         = errors.New("invalid verification code")
	ErrRateLimitExceeded  = errors.New("rate limit exceeded")
	ErrStoreUnavailable   = errors.New("store unavailable")
)

// IsDomainError reports whether err is one of the expected operation outcomes
// rather than an infrastructure fault.
func IsDomainError(err error) bool {
	for _, kind := range []error{
		ErrUserNotFound, ErrUserNotActive, ErrInvalidCredentials, ErrEmailTaken,
		ErrTokenExpired, ErrTokenNotFound, ErrInvalidToken,
		ErrActiveOTPExists, ErrInvalidOTP, ErrRateLimitExceeded,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
