// Package datasource implements the live feed collaborator: a rate-limited
// HTTP client for the feed bridge plus a short-lived response cache.
package datasource

import (
	"context"
	"errors"
	"fmt"

	"github.com/yourusername/keiba-odds/internal/models"
)

// Fetcher retrieves race lists and odds from an external source.
type Fetcher interface {
	// FetchRaceList retrieves every race scheduled on date (YYYYMMDD)
	FetchRaceList(ctx context.Context, date string) ([]models.RaceSummary, error)

	// FetchOdds retrieves the current odds snapshot for a race
	FetchOdds(ctx context.Context, key models.RaceKey) (*models.OddsSnapshot, error)

	// Name returns the name of the source
	Name() string
}

// FetchError represents a failed call to the feed.
type FetchError struct {
	Source  string // Data source name
	Code    string // Error code (e.g., "rate_limit_exceeded")
	Message string // Error message
	Err     error  // Underlying error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s (%v)", e.Source, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Source, e.Code, e.Message)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is maps every FetchError onto models.ErrFetchFailed, and timeouts onto
// models.ErrFetchTimeout as well.
func (e *FetchError) Is(target error) bool {
	switch target {
	case models.ErrFetchFailed:
		return true
	case models.ErrFetchTimeout:
		return e.Code == ErrCodeTimeout
	}
	return false
}

// Common error codes
const (
	ErrCodeRateLimitExceeded    = "rate_limit_exceeded"
	ErrCodeAuthenticationFailed = "authentication_failed"
	ErrCodeNotFound             = "not_found"
	ErrCodeInvalidData          = "invalid_data"
	ErrCodeNetworkError         = "network_error"
	ErrCodeServerError          = "server_error"
	ErrCodeTimeout              = "timeout"
	ErrCodeCircuitOpen          = "circuit_open"
	ErrCodeUnknown              = "unknown"
)

// ErrCircuitOpen is returned while the circuit breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker open")

// NewFetchError creates a new fetch error
func NewFetchError(source, code, message string, err error) *FetchError {
	return &FetchError{
		Source:  source,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// classify turns a transport error into a FetchError.
func classify(source, message string, err error) *FetchError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewFetchError(source, ErrCodeTimeout, message, err)
	case errors.Is(err, ErrCircuitOpen):
		return NewFetchError(source, ErrCodeCircuitOpen, message, err)
	default:
		var te interface{ Timeout() bool }
		if errors.As(err, &te) && te.Timeout() {
			return NewFetchError(source, ErrCodeTimeout, message, err)
		}
		return NewFetchError(source, ErrCodeNetworkError, message, err)
	}
}
