package service

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownSource is returned by ParseSource for unrecognised names.
var ErrUnknownSource = errors.New("unknown data source")

// Source is a caller's data source preference. SourceDefault means the
// caller expressed none and the configured default applies; SourceAuto
// always runs the fallback chain.
type Source int

const (
	SourceDefault Source = iota
	SourceAuto
	SourceLive
	SourceHistorical
)

// Data source labels carried by envelopes.
const (
	DataSourceLive       = "live"
	DataSourceHistorical = "historical"
	DataSourceMock       = "mock"
)

// ParseSource maps a request parameter onto a Source. An empty string is
// SourceDefault; "realtime" is accepted as an alias for live.
func ParseSource(s string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return SourceDefault, nil
	case "auto":
		return SourceAuto, nil
	case "live", "realtime":
		return SourceLive, nil
	case "historical":
		return SourceHistorical, nil
	default:
		return SourceDefault, fmt.Errorf("%w: %q", ErrUnknownSource, s)
	}
}

func (s Source) String() string {
	switch s {
	case SourceLive:
		return "live"
	case SourceHistorical:
		return "historical"
	case SourceAuto:
		return "auto"
	default:
		return "default"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
