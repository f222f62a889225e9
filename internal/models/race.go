package models

import "time"

// RaceSummary is one row of a race list for a date.
type RaceSummary struct {
	RaceKey    RaceKey   `json:"race_key" validate:"required"`
	Name       string    `json:"name"`
	RaceNumber int       `json:"race_number" validate:"gte=1"`
	Venue      string    `json:"venue"`
	PostTime   time.Time `json:"post_time" validate:"required"`
	Distance   int       `json:"distance" validate:"gte=0"`
	Surface    string    `json:"surface"`
}

// FindRace returns the summary for key in races, if present.
func FindRace(races []RaceSummary, key RaceKey) (*RaceSummary, bool) {
	for i := range races {
		if races[i].RaceKey == key {
			r := races[i]
			return &r, true
		}
	}
	return nil, false
}
