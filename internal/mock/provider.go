// Package mock is the static-mock collaborator used when no real data
// source can answer. Everything it returns is labelled as a placeholder.
package mock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourusername/keiba-odds/internal/models"
)

// SourceName identifies placeholder data in envelopes and metrics.
const SourceName = "mock"

// defaultPostTime is used for races the fixture does not describe.
const defaultPostTime = "10:00"

// Fixture is the optional JSON mock data file.
type Fixture struct {
	Races map[string][]models.RaceSummary `json:"races"`
	Odds  map[string][]models.OddsRecord  `json:"odds"`
}

// Provider serves fixed placeholder odds.
type Provider struct {
	fixture  Fixture
	location *time.Location
	now      func() time.Time
	logger   *logrus.Logger
}

// New creates a Provider. An empty dataFile, or one that does not exist,
// leaves only the built-in placeholder record.
func New(dataFile string, loc *time.Location, logger *logrus.Logger) (*Provider, error) {
	if loc == nil {
		loc = time.UTC
	}
	p := &Provider{
		location: loc,
		now:      time.Now,
		logger:   logger,
	}

	if dataFile == "" {
		return p, nil
	}
	raw, err := os.ReadFile(dataFile)
	if errors.Is(err, os.ErrNotExist) {
		logger.WithField("path", dataFile).Warn("Mock data file not found, using built-in placeholder")
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read mock data file: %w", err)
	}
	if err := json.Unmarshal(raw, &p.fixture); err != nil {
		return nil, fmt.Errorf("failed to parse mock data file %s: %w", dataFile, err)
	}

	logger.WithFields(logrus.Fields{
		"path":  dataFile,
		"dates": len(p.fixture.Races),
		"races": len(p.fixture.Odds),
	}).Info("Loaded mock data fixture")
	return p, nil
}

// WithClock replaces the provider's clock.
func (p *Provider) WithClock(now func() time.Time) *Provider {
	p.now = now
	return p
}

// Name returns the source name.
func (p *Provider) Name() string {
	return SourceName
}

// GetRaceList returns the fixture's races for date. Dates the fixture does
// not cover yield an empty list.
func (p *Provider) GetRaceList(_ context.Context, date string) ([]models.RaceSummary, error) {
	if _, err := models.ParseDate(date, p.location); err != nil {
		return nil, err
	}
	races := append([]models.RaceSummary(nil), p.fixture.Races[date]...)
	sort.Slice(races, func(i, j int) bool { return races[i].RaceNumber < races[j].RaceNumber })
	return races, nil
}

// Race returns the fixture's summary for key, or a placeholder summary
// posting at 10:00 on the race date.
func (p *Provider) Race(key models.RaceKey) (models.RaceSummary, error) {
	if race, ok := models.FindRace(p.fixture.Races[key.Date()], key); ok {
		return *race, nil
	}
	postTime, err := key.PostTimeAt(defaultPostTime, p.location)
	if err != nil {
		return models.RaceSummary{}, err
	}
	return models.RaceSummary{
		RaceKey:    key,
		Name:       fmt.Sprintf("Race %d (placeholder)", key.RaceNumber),
		RaceNumber: key.RaceNumber,
		PostTime:   postTime,
	}, nil
}

// GetOdds returns a placeholder snapshot for key captured now.
func (p *Provider) GetOdds(_ context.Context, key models.RaceKey) (*models.OddsSnapshot, error) {
	records, ok := p.fixture.Odds[key.String()]
	if !ok || len(records) == 0 {
		records = []models.OddsRecord{placeholderRecord()}
	}

	snap := &models.OddsSnapshot{
		RaceKey:       key,
		CapturedAt:    p.now().In(p.location).Truncate(time.Second),
		Entries:       make([]models.OddsRecord, len(records)),
		IsSynthetic:   true,
		SyntheticKind: models.SyntheticPlaceholder,
	}
	for i, r := range records {
		rec := r.Clone()
		rec.RaceKey = key.String()
		snap.Entries[i] = rec
	}
	return snap, nil
}

// placeholderRecord is a fixed 8-runner win/place record.
func placeholderRecord() models.OddsRecord {
	win := []float64{2.8, 4.5, 6.1, 8.9, 12.4, 18.7, 25.3, 41.0}
	rec := models.OddsRecord{RecordType: models.RecordWinPlace}
	for i, odds := range win {
		n := i + 1
		rec.Win = append(rec.Win, models.SelectionOdds{Number: n, Odds: odds})
		rec.Place = append(rec.Place, models.BandOdds{
			Number: n,
			Min:    placeBound(odds, 0.3),
			Max:    placeBound(odds, 0.45),
		})
	}
	return rec
}

// placeBound derives a plausible place bound from win odds at one decimal.
func placeBound(win, ratio float64) float64 {
	v := 1.0 + (win-1.0)*ratio
	return float64(int(v*10)) / 10
}
