package models

import (
	"sort"
	"time"
)

// RecordType is the feed's two-character odds record identifier.
type RecordType string

// Supported wager record types.
const (
	RecordWinPlace        RecordType = "O1"
	RecordBracketQuinella RecordType = "O2"
	RecordQuinella        RecordType = "O3"
	RecordWide            RecordType = "O4"
	RecordExacta          RecordType = "O5"
	RecordTrio            RecordType = "O6"
)

// RecordTypes lists every supported record type in feed order.
var RecordTypes = []RecordType{
	RecordWinPlace, RecordBracketQuinella, RecordQuinella, RecordWide, RecordExacta, RecordTrio,
}

// Valid reports whether t is one of the supported record types.
func (t RecordType) Valid() bool {
	for _, rt := range RecordTypes {
		if rt == t {
			return true
		}
	}
	return false
}

// SyntheticKind distinguishes reconstructed snapshots from placeholders.
type SyntheticKind string

const (
	SyntheticNone          SyntheticKind = ""
	SyntheticReconstructed SyntheticKind = "reconstructed"
	SyntheticPlaceholder   SyntheticKind = "placeholder"
)

// SelectionOdds is a single runner's decimal odds.
type SelectionOdds struct {
	Number int     `json:"number"`
	Odds   float64 `json:"odds"`
}

// BandOdds is a [min,max] odds band for place-style bets.
type BandOdds struct {
	Number int     `json:"number"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// CombinationOdds covers multi-runner bets. Wide bets carry a band in Min/Max.
type CombinationOdds struct {
	Selections []int   `json:"selections"`
	Odds       float64 `json:"odds,omitempty"`
	Min        float64 `json:"min,omitempty"`
	Max        float64 `json:"max,omitempty"`
}

// OddsRecord is the parsed content of one feed record.
type OddsRecord struct {
	RecordType   RecordType        `json:"record_type"`
	RaceKey      string            `json:"race_key,omitempty"`
	OddsTime     string            `json:"odds_time,omitempty"`
	Win          []SelectionOdds   `json:"win,omitempty"`
	Place        []BandOdds        `json:"place,omitempty"`
	Combinations []CombinationOdds `json:"combinations,omitempty"`
}

// Clone returns a deep copy.
func (r OddsRecord) Clone() OddsRecord {
	out := r
	out.Win = append([]SelectionOdds(nil), r.Win...)
	out.Place = append([]BandOdds(nil), r.Place...)
	if r.Combinations != nil {
		out.Combinations = make([]CombinationOdds, len(r.Combinations))
		for i, c := range r.Combinations {
			c.Selections = append([]int(nil), c.Selections...)
			out.Combinations[i] = c
		}
	}
	return out
}

// SimulationInfo describes how a synthetic snapshot was produced.
type SimulationInfo struct {
	SecondsBeforeDeadline int       `json:"seconds_before_deadline"`
	Volatility            float64   `json:"volatility"`
	BaselineCapturedAt    time.Time `json:"baseline_captured_at"`
}

// OddsSnapshot is every record captured for a race at one instant.
type OddsSnapshot struct {
	RaceKey       RaceKey         `json:"race_key"`
	CapturedAt    time.Time       `json:"captured_at"`
	Entries       []OddsRecord    `json:"entries"`
	IsSynthetic   bool            `json:"is_synthetic"`
	SyntheticKind SyntheticKind   `json:"synthetic_kind,omitempty"`
	Simulation    *SimulationInfo `json:"simulation,omitempty"`
}

// Clone returns a deep copy.
func (s *OddsSnapshot) Clone() *OddsSnapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Entries = make([]OddsRecord, len(s.Entries))
	for i, e := range s.Entries {
		out.Entries[i] = e.Clone()
	}
	if s.Simulation != nil {
		sim := *s.Simulation
		out.Simulation = &sim
	}
	return &out
}

// RacePayload is what the Snapshot Store persists per (date, race key):
// the race summary plus its recorded snapshots ordered by capture time.
type RacePayload struct {
	RaceKey   RaceKey        `json:"race_key"`
	Race      *RaceSummary   `json:"race,omitempty"`
	Snapshots []OddsSnapshot `json:"snapshots"`
	CachedAt  time.Time      `json:"cached_at"`
}

// Latest returns the most recent non-synthetic snapshot.
func (p *RacePayload) Latest() (*OddsSnapshot, bool) {
	var latest *OddsSnapshot
	for i := range p.Snapshots {
		s := &p.Snapshots[i]
		if s.IsSynthetic {
			continue
		}
		if latest == nil || s.CapturedAt.After(latest.CapturedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, false
	}
	return latest.Clone(), true
}

// At returns the recording captured exactly at t (second precision).
func (p *RacePayload) At(t time.Time) (*OddsSnapshot, bool) {
	t = t.Truncate(time.Second)
	for i := range p.Snapshots {
		s := &p.Snapshots[i]
		if !s.IsSynthetic && s.CapturedAt.Truncate(time.Second).Equal(t) {
			return s.Clone(), true
		}
	}
	return nil, false
}

// Upsert records snap, replacing any recording at the same capture instant.
// Synthetic snapshots are ignored.
func (p *RacePayload) Upsert(snap OddsSnapshot) bool {
	if snap.IsSynthetic {
		return false
	}
	for i := range p.Snapshots {
		if p.Snapshots[i].CapturedAt.Equal(snap.CapturedAt) {
			p.Snapshots[i] = snap
			return true
		}
	}
	p.Snapshots = append(p.Snapshots, snap)
	sort.Slice(p.Snapshots, func(i, j int) bool {
		return p.Snapshots[i].CapturedAt.Before(p.Snapshots[j].CapturedAt)
	})
	return true
}

// Timeline lists the capture instants of every recording.
func (p *RacePayload) Timeline() []time.Time {
	out := make([]time.Time, 0, len(p.Snapshots))
	for _, s := range p.Snapshots {
		out = append(out, s.CapturedAt)
	}
	return out
}

// CacheIndexEntry is one row of the Snapshot Store index.
type CacheIndexEntry struct {
	Date         string    `json:"date"`
	RaceKey      string    `json:"race_key"`
	Path         string    `json:"path"`
	LastModified time.Time `json:"last_modified"`
}
