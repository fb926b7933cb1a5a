package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by repositories when a record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrRateLimited marks an upstream 429 and is the only error the retry policy retries
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrUnsupportedProvider is returned for a connection whose provider has no client
	ErrUnsupportedProvider = errors.New("unsupported mailbox provider")
	// ErrDuplicateVendor is returned when a second tool is created for the same vendor key
	ErrDuplicateVendor = errors.New("tool already exists for vendor")
)

// Validation rejections
var (
	ErrMissingVendor     = errors.New("vendor name missing")
	ErrLowConfidence     = errors.New("confidence below threshold")
	ErrNothingActionable = errors.New("no trial flag, amount or renewal date")
	ErrImplausibleAmount = errors.New("amount out of range")
)

// ReauthRequiredError means the connection's refresh token no longer works
type ReauthRequiredError struct {
	ConnectionID string
	Err          error
}

func (e *ReauthRequiredError) Error() string {
	return fmt.Sprintf("Token refresh failed: %v. Please reconnect your inbox.", e.Err)
}

func (e *ReauthRequiredError) Unwrap() error {
	return e.Err
}

// RateLimited wraps err so that errors.Is(err, ErrRateLimited) holds
func RateLimited(err error) error {
	if err == nil {
		return ErrRateLimited
	}
	return fmt.Errorf("%w: %w", ErrRateLimited, err)
}
