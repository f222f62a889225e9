package models

import (
	"fmt"
	"strconv"
	"time"
)

// DateLayout is the compact calendar date used for cache partitions and race lists.
const DateLayout = "20060102"

// RaceKeyLength is the number of digits in an encoded race key.
const RaceKeyLength = 16

// RaceKey identifies a single race: YYYYMMDD, venue code, meeting number,
// day number within the meeting and race number, two digits each.
type RaceKey struct {
	Year          int
	Month         int
	Day           int
	VenueCode     int
	MeetingNumber int
	DayNumber     int
	RaceNumber    int
}

// ParseRaceKey decodes a 16-digit race key such as "2025110205041101".
func ParseRaceKey(s string) (RaceKey, error) {
	if len(s) != RaceKeyLength {
		return RaceKey{}, fmt.Errorf("%w: %q must be %d digits", ErrInvalidRaceKey, s, RaceKeyLength)
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return RaceKey{}, fmt.Errorf("%w: %q contains non-digit characters", ErrInvalidRaceKey, s)
		}
	}

	atoi := func(from, to int) int {
		n, _ := strconv.Atoi(s[from:to])
		return n
	}

	k := RaceKey{
		Year:          atoi(0, 4),
		Month:         atoi(4, 6),
		Day:           atoi(6, 8),
		VenueCode:     atoi(8, 10),
		MeetingNumber: atoi(10, 12),
		DayNumber:     atoi(12, 14),
		RaceNumber:    atoi(14, 16),
	}

	if _, err := time.Parse(DateLayout, s[:8]); err != nil {
		return RaceKey{}, fmt.Errorf("%w: %q has invalid date: %v", ErrInvalidRaceKey, s, err)
	}
	if k.RaceNumber < 1 {
		return RaceKey{}, fmt.Errorf("%w: %q has race number 0", ErrInvalidRaceKey, s)
	}
	return k, nil
}

// MustParseRaceKey is ParseRaceKey for constants and tests.
func MustParseRaceKey(s string) RaceKey {
	k, err := ParseRaceKey(s)
	if err != nil {
		panic(err)
	}
	return k
}

// String encodes the key back into its 16-digit form.
func (k RaceKey) String() string {
	return fmt.Sprintf("%04d%02d%02d%02d%02d%02d%02d",
		k.Year, k.Month, k.Day, k.VenueCode, k.MeetingNumber, k.DayNumber, k.RaceNumber)
}

// Date returns the race date in DateLayout form.
func (k RaceKey) Date() string {
	return fmt.Sprintf("%04d%02d%02d", k.Year, k.Month, k.Day)
}

// PostTimeAt combines the race date with an "HH:MM" or "HHMM" wall-clock start.
func (k RaceKey) PostTimeAt(clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	layout := "15:04"
	if len(clock) == 4 {
		layout = "1504"
	}
	t, err := time.ParseInLocation(layout, clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid post time %q: %w", clock, err)
	}
	return time.Date(k.Year, time.Month(k.Month), k.Day, t.Hour(), t.Minute(), 0, 0, loc), nil
}

// ParseDate validates a DateLayout string.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return t, nil
}

// MarshalText implements encoding.TextMarshaler.
func (k RaceKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *RaceKey) UnmarshalText(b []byte) error {
	parsed, err := ParseRaceKey(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
