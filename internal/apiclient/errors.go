package apiclient

import (
	"fmt"
	"time"
)

// ErrUnauthorized is returned when the upstream rejects the credentials.
type ErrUnauthorized struct {
	Msg string
}

func (e *ErrUnauthorized) Error() string {
	return fmt.Sprintf("unauthorized: %s", e.Msg)
}

// ErrRateLimit is returned when the upstream signals rate limiting.
type ErrRateLimit struct {
	RetryAfter time.Duration
}

func (e *ErrRateLimit) Error() string {
	return fmt.Sprintf("rate limited (retry after %s)", e.RetryAfter)
}

// ErrStatus is returned for any other non-2xx response.
type ErrStatus struct {
	Code int
	Body string
}

func (e *ErrStatus) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}
