package models

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the store, providers and the source router.
var (
	ErrNotFound             = errors.New("record not found")
	ErrNoCachedData         = fmt.Errorf("no cached data: %w", ErrNotFound)
	ErrFetchFailed          = errors.New("external fetch failed")
	ErrFetchTimeout         = errors.New("external fetch timed out")
	ErrParse                = errors.New("malformed odds record")
	ErrInvalidHorizon       = errors.New("seconds before deadline must not be negative")
	ErrSourceUnavailable    = errors.New("data source unavailable")
	ErrUnsupportedForSource = errors.New("operation not supported for data source")
	ErrInvalidRaceKey       = errors.New("invalid race key")
	ErrInvalidDate          = errors.New("invalid race date")
)
