// Package historical answers odds requests from the local snapshot store,
// optionally fetching and caching missing races, and reconstructing odds
// for instants before the deadline that were never recorded.
package historical

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourusername/keiba-odds/internal/datasource"
	"github.com/yourusername/keiba-odds/internal/deadline"
	"github.com/yourusername/keiba-odds/internal/models"
	"github.com/yourusername/keiba-odds/internal/reconstruct"
	"github.com/yourusername/keiba-odds/internal/store"
)

// Config configures the provider.
type Config struct {
	MarginSeconds int
	AutoFetch     bool
	FetchTimeout  time.Duration
	Location      *time.Location
}

// Provider is the Historical Provider.
type Provider struct {
	store   *store.Store
	fetcher datasource.Fetcher
	recon   *reconstruct.Reconstructor
	cfg     Config
	now     func() time.Time
	logger  *logrus.Logger
}

// Result is the outcome of GetOdds.
type Result struct {
	Snapshot *models.OddsSnapshot
	Race     models.RaceSummary
	Deadline deadline.Info
	// IsPastData is set when the deadline has passed or any horizon was
	// requested: reconstructed and back-dated data is never authoritative.
	IsPastData            bool
	SecondsBeforeDeadline *int
	// Exact is set when a horizon was requested and a recording existed at
	// exactly that instant.
	Exact bool
}

// RaceDetail describes a cached race and its recording timeline.
type RaceDetail struct {
	Race      models.RaceSummary `json:"race"`
	Timeline  []time.Time        `json:"timeline"`
	CachedAt  time.Time          `json:"cached_at"`
	Deadline  deadline.Info      `json:"deadline_info"`
	Snapshots int                `json:"snapshot_count"`
}

// Status reports provider state.
type Status struct {
	Available  bool        `json:"available"`
	AutoFetch  bool        `json:"auto_fetch"`
	HasFetcher bool        `json:"has_fetcher"`
	Cache      store.Stats `json:"cache"`
}

// New creates a Provider. fetcher may be nil, in which case auto-fetch and
// refresh are unavailable.
func New(s *store.Store, fetcher datasource.Fetcher, recon *reconstruct.Reconstructor, cfg Config, logger *logrus.Logger) *Provider {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	return &Provider{
		store:   s,
		fetcher: fetcher,
		recon:   recon,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger,
	}
}

// WithClock replaces the provider's clock. Intended for tests and replays.
func (p *Provider) WithClock(now func() time.Time) *Provider {
	p.now = now
	return p
}

// AutoFetchEnabled reports whether misses trigger a fetch.
func (p *Provider) AutoFetchEnabled() bool {
	return p.cfg.AutoFetch && p.fetcher != nil
}

// GetOdds returns odds for key, reconstructed for secondsBeforeDeadline when
// given and no recording exists at that instant.
func (p *Provider) GetOdds(ctx context.Context, key models.RaceKey, secondsBeforeDeadline *int) (*Result, error) {
	if secondsBeforeDeadline != nil && *secondsBeforeDeadline < 0 {
		return nil, fmt.Errorf("%w: got %d", models.ErrInvalidHorizon, *secondsBeforeDeadline)
	}

	log := p.logger.WithField("race_key", key.String())
	payload, err := p.load(ctx, key)
	if err != nil {
		return nil, err
	}
	summary, err := p.summary(ctx, key, payload)
	if err != nil {
		return nil, err
	}
	baseline, ok := payload.Latest()
	if !ok {
		return nil, fmt.Errorf("race %s has no recorded snapshots: %w", key, models.ErrNoCachedData)
	}

	info := deadline.Compute(summary.PostTime, p.now(), p.cfg.MarginSeconds)
	res := &Result{
		Snapshot:   baseline,
		Race:       *summary,
		Deadline:   info,
		IsPastData: info.IsPast,
	}
	if secondsBeforeDeadline == nil {
		return res, nil
	}

	h := *secondsBeforeDeadline
	res.SecondsBeforeDeadline = &h
	res.IsPastData = true

	if exact, ok := payload.At(info.At(h)); ok {
		log.WithField("seconds_before_deadline", h).Debug("Using exact recording for horizon")
		res.Snapshot = exact
		res.Exact = true
		return res, nil
	}

	synthetic, err := p.recon.Reconstruct(baseline, h, info)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"seconds_before_deadline": h,
		"volatility":              synthetic.Simulation.Volatility,
	}).Debug("Reconstructed odds for horizon")
	res.Snapshot = synthetic
	return res, nil
}

// GetRaceList returns the races for date from the cache, fetching them when
// auto-fetch is enabled.
func (p *Provider) GetRaceList(ctx context.Context, date string) ([]models.RaceSummary, error) {
	if _, err := models.ParseDate(date, p.cfg.Location); err != nil {
		return nil, err
	}
	if !p.store.HasRaceList(date) {
		if !p.AutoFetchEnabled() {
			return nil, fmt.Errorf("race list for %s: %w", date, models.ErrNoCachedData)
		}
		if _, err := p.fetchRaceList(ctx, date); err != nil {
			return nil, err
		}
	}
	return p.store.GetRaceList(ctx, date)
}

// GetRaceDetail returns the cached race summary and its recording timeline.
func (p *Provider) GetRaceDetail(ctx context.Context, key models.RaceKey) (*RaceDetail, error) {
	payload, err := p.load(ctx, key)
	if err != nil {
		return nil, err
	}
	summary, err := p.summary(ctx, key, payload)
	if err != nil {
		return nil, err
	}
	return &RaceDetail{
		Race:      *summary,
		Timeline:  payload.Timeline(),
		CachedAt:  payload.CachedAt,
		Deadline:  deadline.Compute(summary.PostTime, p.now(), p.cfg.MarginSeconds),
		Snapshots: len(payload.Snapshots),
	}, nil
}

// RefreshRace fetches and caches key regardless of what is cached.
func (p *Provider) RefreshRace(ctx context.Context, key models.RaceKey) error {
	if p.fetcher == nil {
		return fmt.Errorf("refresh %s: %w", key, models.ErrSourceUnavailable)
	}
	return p.fetchAndCache(ctx, key)
}

// Status reports provider state and cache totals.
func (p *Provider) Status() Status {
	stats := p.store.Stats()
	return Status{
		Available:  stats.TotalRaces > 0 || p.AutoFetchEnabled(),
		AutoFetch:  p.cfg.AutoFetch,
		HasFetcher: p.fetcher != nil,
		Cache:      stats,
	}
}

// load returns the cached payload, fetching it first when allowed.
func (p *Provider) load(ctx context.Context, key models.RaceKey) (*models.RacePayload, error) {
	date := key.Date()
	if !p.store.Has(date, key) {
		if !p.AutoFetchEnabled() {
			return nil, fmt.Errorf("race %s: %w", key, models.ErrNoCachedData)
		}
		if err := p.fetchAndCache(ctx, key); err != nil {
			return nil, err
		}
	}
	return p.store.Get(ctx, date, key)
}

// summary returns the race summary stored with payload, or the matching
// entry of the date's cached race list when the payload has none.
func (p *Provider) summary(ctx context.Context, key models.RaceKey, payload *models.RacePayload) (*models.RaceSummary, error) {
	if payload.Race != nil {
		return payload.Race, nil
	}
	races, err := p.store.GetRaceList(ctx, key.Date())
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	if race, ok := models.FindRace(races, key); ok {
		return race, nil
	}
	return nil, fmt.Errorf("race %s has no summary cached: %w", key, models.ErrNoCachedData)
}

// fetchAndCache fetches the race list and odds for key and writes them.
// Nothing is written unless every fetch succeeded. The race entry is
// written first; the request succeeds once it is cached, and a failure to
// cache the date's race list afterwards is only logged.
func (p *Provider) fetchAndCache(ctx context.Context, key models.RaceKey) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	log := p.logger.WithFields(logrus.Fields{"race_key": key.String(), "source": p.fetcher.Name()})
	log.Info("Fetching race for cache")

	races, err := p.fetcher.FetchRaceList(ctx, key.Date())
	if err != nil {
		return fetchFailure(ctx, key, err)
	}
	race, ok := models.FindRace(races, key)
	if !ok {
		return fmt.Errorf("race %s missing from race list: %w", key, models.ErrFetchFailed)
	}
	snap, err := p.fetcher.FetchOdds(ctx, key)
	if err != nil {
		return fetchFailure(ctx, key, err)
	}
	snap.RaceKey = key
	snap.IsSynthetic = false

	if err := p.store.AppendSnapshot(ctx, race, *snap); err != nil {
		return fmt.Errorf("cache odds for %s: %w", key, err)
	}
	log.WithField("entries", len(snap.Entries)).Info("Race cached")
	if err := p.store.PutRaceList(ctx, key.Date(), races); err != nil {
		log.WithError(err).Warn("Failed to cache race list")
	}
	return nil
}

func (p *Provider) fetchRaceList(ctx context.Context, date string) ([]models.RaceSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	races, err := p.fetcher.FetchRaceList(ctx, date)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, models.ErrFetchTimeout) {
			return nil, fmt.Errorf("race list for %s: %w: %v", date, models.ErrFetchTimeout, err)
		}
		return nil, fmt.Errorf("race list for %s: %w: %v", date, models.ErrFetchFailed, err)
	}
	if err := p.store.PutRaceList(ctx, date, races); err != nil {
		return nil, fmt.Errorf("cache race list for %s: %w", date, err)
	}
	return races, nil
}

// fetchFailure normalizes collaborator errors onto the fetch taxonomy.
func fetchFailure(ctx context.Context, key models.RaceKey, err error) error {
	if errors.Is(err, models.ErrFetchFailed) || errors.Is(err, models.ErrFetchTimeout) {
		return fmt.Errorf("fetch %s: %w", key, err)
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("fetch %s: %w: %v", key, models.ErrFetchTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("fetch %s: %w: %v", key, models.ErrFetchFailed, err)
}
