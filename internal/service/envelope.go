package service

import (
	"time"

	"github.com/yourusername/keiba-odds/internal/deadline"
	"github.com/yourusername/keiba-odds/internal/models"
)

// OddsEnvelope is the normalized response for every odds request regardless
// of which source answered it.
type OddsEnvelope struct {
	RaceKey               models.RaceKey         `json:"race_key"`
	Odds                  []models.OddsRecord    `json:"odds"`
	Count                 int                    `json:"count"`
	Timestamp             time.Time              `json:"timestamp"`
	CapturedAt            time.Time              `json:"captured_at"`
	IsPastData            bool                   `json:"is_past_data"`
	DataSource            string                 `json:"data_source"`
	WarningMessage        string                 `json:"warning_message,omitempty"`
	TimeStatus            string                 `json:"time_status,omitempty"`
	SecondsBeforeDeadline *int                   `json:"seconds_before_deadline,omitempty"`
	DeadlineInfo          *deadline.Info         `json:"deadline_info,omitempty"`
	IsSynthetic           bool                   `json:"is_synthetic"`
	SyntheticKind         models.SyntheticKind   `json:"synthetic_kind,omitempty"`
	Simulation            *models.SimulationInfo `json:"simulation,omitempty"`
}

// RaceListEnvelope is the normalized response for race list requests.
type RaceListEnvelope struct {
	Date           string               `json:"date"`
	Races          []models.RaceSummary `json:"races"`
	Count          int                  `json:"count"`
	Timestamp      time.Time            `json:"timestamp"`
	DataSource     string               `json:"data_source"`
	WarningMessage string               `json:"warning_message,omitempty"`
}

// PruneResult reports a cache prune.
type PruneResult struct {
	OlderThanDays int       `json:"older_than_days"`
	Removed       int       `json:"removed"`
	Timestamp     time.Time `json:"timestamp"`
}

func newOddsEnvelope(snap *models.OddsSnapshot, source string, now time.Time) *OddsEnvelope {
	env := &OddsEnvelope{
		RaceKey:       snap.RaceKey,
		Odds:          snap.Entries,
		Count:         len(snap.Entries),
		Timestamp:     now,
		CapturedAt:    snap.CapturedAt,
		DataSource:    source,
		IsSynthetic:   snap.IsSynthetic,
		SyntheticKind: snap.SyntheticKind,
		Simulation:    snap.Simulation,
	}
	if env.Odds == nil {
		env.Odds = []models.OddsRecord{}
	}
	return env
}

func (e *OddsEnvelope) setDeadline(info deadline.Info) {
	e.DeadlineInfo = &info
	e.TimeStatus = info.Describe()
}
