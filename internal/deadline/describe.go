package deadline

import (
	"fmt"
	"strings"
)

// AtDeadline is rendered when a request sits exactly on the deadline.
const AtDeadline = "at deadline"

type unit struct {
	seconds  int64
	singular string
}

var units = []unit{
	{3600, "hour"},
	{60, "minute"},
	{1, "second"},
}

// Describe renders signed seconds until the deadline. Positive values are
// time remaining, negative values are time elapsed since the deadline.
// At most the two coarsest non-zero units are shown: 3600 is "1 hour",
// 5400 is "1 hour 30 minutes", 3605 is "1 hour 5 seconds".
func Describe(secondsUntilDeadline int64) string {
	if secondsUntilDeadline == 0 {
		return AtDeadline
	}
	if secondsUntilDeadline > 0 {
		return Humanize(secondsUntilDeadline) + " remaining"
	}
	return Humanize(-secondsUntilDeadline) + " elapsed since deadline"
}

// Humanize formats a non-negative duration in seconds.
func Humanize(secs int64) string {
	if secs < 0 {
		secs = -secs
	}
	if secs == 0 {
		return "0 seconds"
	}

	parts := make([]string, 0, 2)
	rest := secs
	for _, u := range units {
		n := rest / u.seconds
		rest %= u.seconds
		if n == 0 {
			continue
		}
		parts = append(parts, plural(n, u.singular))
		if len(parts) == 2 {
			break
		}
	}
	return strings.Join(parts, " ")
}

func plural(n int64, word string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
