// Package deadline computes betting-close state for a race and renders
// remaining or elapsed time as human-readable phrases.
package deadline

import (
	"time"
)

// DefaultMarginSeconds is how long before post time betting closes.
const DefaultMarginSeconds = 60

// Status is the betting state of a race relative to its deadline.
type Status string

const (
	StatusActive Status = "active"
	StatusPast   Status = "past"
)

// Info is the derived deadline state for one race at one instant.
type Info struct {
	PostTime             time.Time `json:"post_time"`
	Deadline             time.Time `json:"deadline"`
	Now                  time.Time `json:"current_time"`
	MarginSeconds        int       `json:"margin_seconds"`
	IsPast               bool      `json:"is_past"`
	SecondsUntilDeadline int64     `json:"seconds_until_deadline"`
	Status               Status    `json:"status"`
}

// Compute derives deadline state. marginSeconds is validated at config load;
// callers pass it through unchanged.
func Compute(postTime, now time.Time, marginSeconds int) Info {
	dl := postTime.Add(-time.Duration(marginSeconds) * time.Second)
	secs := int64(dl.Sub(now) / time.Second)

	info := Info{
		PostTime:             postTime,
		Deadline:             dl,
		Now:                  now,
		MarginSeconds:        marginSeconds,
		IsPast:               secs <= 0,
		SecondsUntilDeadline: secs,
		Status:               StatusActive,
	}
	if info.IsPast {
		info.Status = StatusPast
	}
	return info
}

// At returns the instant h seconds before the deadline.
func (i Info) At(secondsBeforeDeadline int) time.Time {
	return i.Deadline.Add(-time.Duration(secondsBeforeDeadline) * time.Second)
}

// Describe renders the info's signed distance to the deadline.
func (i Info) Describe() string {
	return Describe(i.SecondsUntilDeadline)
}
