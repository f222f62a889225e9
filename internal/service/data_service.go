// Package service routes odds and race list requests to the live feed, the
// local snapshot cache or the placeholder source, and normalizes whatever
// answers into one envelope shape.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourusername/keiba-odds/internal/datasource"
	"github.com/yourusername/keiba-odds/internal/deadline"
	"github.com/yourusername/keiba-odds/internal/historical"
	"github.com/yourusername/keiba-odds/internal/logger"
	"github.com/yourusername/keiba-odds/internal/metrics"
	"github.com/yourusername/keiba-odds/internal/mock"
	"github.com/yourusername/keiba-odds/internal/models"
	"github.com/yourusername/keiba-odds/internal/store"
)

const mockWarning = "No data source available: showing placeholder odds"

// Options configures the DataService.
type Options struct {
	Environment       string
	DefaultSource     Source
	AllowMockFallback bool
	RecordLive        bool
	MarginSeconds     int
}

// DataService is the source router.
type DataService struct {
	store      *store.Store
	historical *historical.Provider
	live       datasource.Fetcher
	mock       *mock.Provider
	opts       Options
	now        func() time.Time
	logger     *logrus.Logger
	audit      *logger.CacheAuditLogger
}

// NewDataService creates a DataService. live and mockProvider may be nil
// when those sources are not configured.
func NewDataService(
	s *store.Store,
	hist *historical.Provider,
	live datasource.Fetcher,
	mockProvider *mock.Provider,
	opts Options,
	log *logrus.Logger,
) *DataService {
	return &DataService{
		store:      s,
		historical: hist,
		live:       live,
		mock:       mockProvider,
		opts:       opts,
		now:        time.Now,
		logger:     log,
		audit:      logger.NewCacheAuditLogger(log),
	}
}

// WithClock replaces the service clock.
func (d *DataService) WithClock(now func() time.Time) *DataService {
	d.now = now
	return d
}

// LiveAvailable reports whether a live feed is configured.
func (d *DataService) LiveAvailable() bool {
	return d.live != nil
}

// resolve applies the configured default when the caller gave no
// preference. An explicit auto is never rewritten.
func (d *DataService) resolve(src Source) Source {
	if src != SourceDefault {
		return src
	}
	if d.opts.DefaultSource == SourceDefault {
		return SourceAuto
	}
	return d.opts.DefaultSource
}

// GetOdds returns odds for key from the preferred source. A non-nil
// secondsBeforeDeadline requests odds reconstructed for that horizon.
func (d *DataService) GetOdds(ctx context.Context, key models.RaceKey, src Source, secondsBeforeDeadline *int) (*OddsEnvelope, error) {
	if secondsBeforeDeadline != nil && *secondsBeforeDeadline < 0 {
		return nil, fmt.Errorf("%w: got %d", models.ErrInvalidHorizon, *secondsBeforeDeadline)
	}

	switch d.resolve(src) {
	case SourceLive:
		env, err := d.liveOdds(ctx, key, secondsBeforeDeadline)
		observe(DataSourceLive, err)
		return env, err
	case SourceHistorical:
		env, err := d.historicalOdds(ctx, key, secondsBeforeDeadline)
		observe(DataSourceHistorical, err)
		return env, err
	case SourceAuto:
		attempts := make([]attempt[*OddsEnvelope], 0, 3)
		if d.live != nil && secondsBeforeDeadline == nil {
			attempts = append(attempts, attempt[*OddsEnvelope]{DataSourceLive, func(ctx context.Context) (*OddsEnvelope, error) {
				return d.liveOdds(ctx, key, nil)
			}})
		}
		attempts = append(attempts, attempt[*OddsEnvelope]{DataSourceHistorical, func(ctx context.Context) (*OddsEnvelope, error) {
			return d.historicalOdds(ctx, key, secondsBeforeDeadline)
		}})
		if d.mockAllowed() {
			attempts = append(attempts, attempt[*OddsEnvelope]{DataSourceMock, func(ctx context.Context) (*OddsEnvelope, error) {
				return d.mockOdds(ctx, key, secondsBeforeDeadline)
			}})
		}
		return runChain(ctx, d, key.String(), attempts)
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownSource, src)
	}
}

func (d *DataService) liveOdds(ctx context.Context, key models.RaceKey, secondsBeforeDeadline *int) (*OddsEnvelope, error) {
	if d.live == nil {
		return nil, fmt.Errorf("live odds for %s: %w", key, models.ErrSourceUnavailable)
	}
	if secondsBeforeDeadline != nil {
		return nil, fmt.Errorf("%w: live odds cannot be requested %d seconds before the deadline",
			models.ErrUnsupportedForSource, *secondsBeforeDeadline)
	}

	snap, err := d.live.FetchOdds(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrSourceUnavailable, err)
	}
	snap.RaceKey = key
	snap.IsSynthetic = false

	now := d.now()
	env := newOddsEnvelope(snap, DataSourceLive, now)

	race, ok := d.liveRace(ctx, key)
	if !ok {
		return env, nil
	}
	info := deadline.Compute(race.PostTime, now, d.opts.MarginSeconds)
	env.setDeadline(info)
	env.IsPastData = info.IsPast
	if info.IsPast {
		env.WarningMessage = pastWarning(info)
	}

	if d.opts.RecordLive {
		if err := d.store.AppendSnapshot(ctx, race, *snap); err != nil {
			d.logger.WithError(err).WithField("race_key", key.String()).Warn("Failed to record live snapshot")
		}
	}
	return env, nil
}

// liveRace looks key up in the live race list. Failures are not fatal: the
// odds are still served, only without deadline information.
func (d *DataService) liveRace(ctx context.Context, key models.RaceKey) (*models.RaceSummary, bool) {
	races, err := d.live.FetchRaceList(ctx, key.Date())
	if err != nil {
		d.logger.WithError(err).WithField("race_key", key.String()).Debug("Live race list unavailable")
		return nil, false
	}
	return models.FindRace(races, key)
}

func (d *DataService) historicalOdds(ctx context.Context, key models.RaceKey, secondsBeforeDeadline *int) (*OddsEnvelope, error) {
	res, err := d.historical.GetOdds(ctx, key, secondsBeforeDeadline)
	if err != nil {
		return nil, err
	}

	env := newOddsEnvelope(res.Snapshot, DataSourceHistorical, d.now())
	env.setDeadline(res.Deadline)
	env.IsPastData = res.IsPastData
	env.SecondsBeforeDeadline = res.SecondsBeforeDeadline

	switch {
	case secondsBeforeDeadline != nil:
		h := *secondsBeforeDeadline
		env.TimeStatus = deadline.Describe(int64(h))
		if res.Exact {
			env.WarningMessage = fmt.Sprintf("Past data: odds recorded %s before the deadline", deadline.Humanize(int64(h)))
		} else {
			env.WarningMessage = fmt.Sprintf("Past data: odds simulated for %s before the deadline", deadline.Humanize(int64(h)))
		}
	case res.Deadline.IsPast:
		env.WarningMessage = pastWarning(res.Deadline)
	}
	return env, nil
}

func (d *DataService) mockOdds(ctx context.Context, key models.RaceKey, secondsBeforeDeadline *int) (*OddsEnvelope, error) {
	if d.mock == nil {
		return nil, fmt.Errorf("placeholder odds for %s: %w", key, models.ErrSourceUnavailable)
	}
	snap, err := d.mock.GetOdds(ctx, key)
	if err != nil {
		return nil, err
	}
	race, err := d.mock.Race(key)
	if err != nil {
		return nil, err
	}

	now := d.now()
	env := newOddsEnvelope(snap, DataSourceMock, now)
	env.setDeadline(deadline.Compute(race.PostTime, now, d.opts.MarginSeconds))
	// Placeholder odds are never authoritative.
	env.IsPastData = true
	env.SecondsBeforeDeadline = secondsBeforeDeadline
	env.WarningMessage = mockWarning
	return env, nil
}

// GetRaceList returns the races for date (YYYYMMDD) from the preferred source.
func (d *DataService) GetRaceList(ctx context.Context, date string, src Source) (*RaceListEnvelope, error) {
	if _, err := models.ParseDate(date, nil); err != nil {
		return nil, err
	}

	switch d.resolve(src) {
	case SourceLive:
		env, err := d.liveRaceList(ctx, date)
		observe(DataSourceLive, err)
		return env, err
	case SourceHistorical:
		env, err := d.historicalRaceList(ctx, date)
		observe(DataSourceHistorical, err)
		return env, err
	case SourceAuto:
		attempts := make([]attempt[*RaceListEnvelope], 0, 3)
		if d.live != nil {
			attempts = append(attempts, attempt[*RaceListEnvelope]{DataSourceLive, func(ctx context.Context) (*RaceListEnvelope, error) {
				return d.liveRaceList(ctx, date)
			}})
		}
		attempts = append(attempts, attempt[*RaceListEnvelope]{DataSourceHistorical, func(ctx context.Context) (*RaceListEnvelope, error) {
			return d.historicalRaceList(ctx, date)
		}})
		if d.mockAllowed() {
			attempts = append(attempts, attempt[*RaceListEnvelope]{DataSourceMock, func(ctx context.Context) (*RaceListEnvelope, error) {
				return d.mockRaceList(ctx, date)
			}})
		}
		return runChain(ctx, d, date, attempts)
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownSource, src)
	}
}

func (d *DataService) liveRaceList(ctx context.Context, date string) (*RaceListEnvelope, error) {
	if d.live == nil {
		return nil, fmt.Errorf("live race list for %s: %w", date, models.ErrSourceUnavailable)
	}
	races, err := d.live.FetchRaceList(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrSourceUnavailable, err)
	}
	if d.opts.RecordLive {
		if err := d.store.PutRaceList(ctx, date, races); err != nil {
			d.logger.WithError(err).WithField("date", date).Warn("Failed to record live race list")
		}
	}
	return d.raceListEnvelope(date, races, DataSourceLive), nil
}

func (d *DataService) historicalRaceList(ctx context.Context, date string) (*RaceListEnvelope, error) {
	races, err := d.historical.GetRaceList(ctx, date)
	if err != nil {
		return nil, err
	}
	return d.raceListEnvelope(date, races, DataSourceHistorical), nil
}

func (d *DataService) mockRaceList(ctx context.Context, date string) (*RaceListEnvelope, error) {
	if d.mock == nil {
		return nil, fmt.Errorf("placeholder race list for %s: %w", date, models.ErrSourceUnavailable)
	}
	races, err := d.mock.GetRaceList(ctx, date)
	if err != nil {
		return nil, err
	}
	env := d.raceListEnvelope(date, races, DataSourceMock)
	env.WarningMessage = mockWarning
	return env, nil
}

func (d *DataService) raceListEnvelope(date string, races []models.RaceSummary, source string) *RaceListEnvelope {
	if races == nil {
		races = []models.RaceSummary{}
	}
	return &RaceListEnvelope{
		Date:       date,
		Races:      races,
		Count:      len(races),
		Timestamp:  d.now(),
		DataSource: source,
	}
}

// RaceDetailEnvelope describes one race and what is recorded for it.
type RaceDetailEnvelope struct {
	Race         models.RaceSummary `json:"race"`
	Timeline     []time.Time        `json:"timeline"`
	Snapshots    int                `json:"snapshot_count"`
	DeadlineInfo deadline.Info      `json:"deadline_info"`
	TimeStatus   string             `json:"time_status"`
	DataSource   string             `json:"data_source"`
}

// GetRaceDetail returns a race summary with its recording timeline. Auto
// prefers the cache, since only cached races have a timeline.
func (d *DataService) GetRaceDetail(ctx context.Context, key models.RaceKey, src Source) (*RaceDetailEnvelope, error) {
	historicalDetail := func(ctx context.Context) (*RaceDetailEnvelope, error) {
		detail, err := d.historical.GetRaceDetail(ctx, key)
		if err != nil {
			return nil, err
		}
		return &RaceDetailEnvelope{
			Race:         detail.Race,
			Timeline:     detail.Timeline,
			Snapshots:    detail.Snapshots,
			DeadlineInfo: detail.Deadline,
			TimeStatus:   detail.Deadline.Describe(),
			DataSource:   DataSourceHistorical,
		}, nil
	}
	liveDetail := func(ctx context.Context) (*RaceDetailEnvelope, error) {
		if d.live == nil {
			return nil, fmt.Errorf("live race %s: %w", key, models.ErrSourceUnavailable)
		}
		races, err := d.live.FetchRaceList(ctx, key.Date())
		if err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrSourceUnavailable, err)
		}
		race, ok := models.FindRace(races, key)
		if !ok {
			return nil, fmt.Errorf("live race %s: %w", key, models.ErrNotFound)
		}
		return d.bareDetail(*race, DataSourceLive), nil
	}
	mockDetail := func(ctx context.Context) (*RaceDetailEnvelope, error) {
		if d.mock == nil {
			return nil, fmt.Errorf("placeholder race %s: %w", key, models.ErrSourceUnavailable)
		}
		race, err := d.mock.Race(key)
		if err != nil {
			return nil, err
		}
		return d.bareDetail(race, DataSourceMock), nil
	}

	switch d.resolve(src) {
	case SourceLive:
		env, err := liveDetail(ctx)
		observe(DataSourceLive, err)
		return env, err
	case SourceHistorical:
		env, err := historicalDetail(ctx)
		observe(DataSourceHistorical, err)
		return env, err
	case SourceAuto:
		attempts := []attempt[*RaceDetailEnvelope]{{DataSourceHistorical, historicalDetail}}
		if d.live != nil {
			attempts = append(attempts, attempt[*RaceDetailEnvelope]{DataSourceLive, liveDetail})
		}
		if d.mockAllowed() {
			attempts = append(attempts, attempt[*RaceDetailEnvelope]{DataSourceMock, mockDetail})
		}
		return runChain(ctx, d, key.String(), attempts)
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownSource, src)
	}
}

func (d *DataService) bareDetail(race models.RaceSummary, source string) *RaceDetailEnvelope {
	info := deadline.Compute(race.PostTime, d.now(), d.opts.MarginSeconds)
	return &RaceDetailEnvelope{
		Race:         race,
		Timeline:     []time.Time{},
		DeadlineInfo: info,
		TimeStatus:   info.Describe(),
		DataSource:   source,
	}
}

// RefreshRace re-fetches key from the live feed into the cache, bypassing
// the feed response cache.
func (d *DataService) RefreshRace(ctx context.Context, key models.RaceKey) error {
	if inv, ok := d.live.(interface{ Invalidate(models.RaceKey) }); ok {
		inv.Invalidate(key)
	}
	return d.historical.RefreshRace(ctx, key)
}

// PrefetchRaceList fetches the live race list for date into the cache.
func (d *DataService) PrefetchRaceList(ctx context.Context, date string) (int, error) {
	if d.live == nil {
		return 0, fmt.Errorf("prefetch %s: %w", date, models.ErrSourceUnavailable)
	}
	races, err := d.live.FetchRaceList(ctx, date)
	if err != nil {
		return 0, fmt.Errorf("prefetch %s: %w", date, err)
	}
	if err := d.store.PutRaceList(ctx, date, races); err != nil {
		return 0, err
	}
	return len(races), nil
}

// PruneCache removes cached entries older than olderThanDays. Zero removes
// everything.
func (d *DataService) PruneCache(ctx context.Context, olderThanDays int) (*PruneResult, error) {
	removed, err := d.store.PruneOlderThan(ctx, olderThanDays)
	if err != nil {
		return nil, err
	}
	return &PruneResult{
		OlderThanDays: olderThanDays,
		Removed:       removed,
		Timestamp:     d.now(),
	}, nil
}

// ClearCache removes every cached entry.
func (d *DataService) ClearCache(ctx context.Context) (int, error) {
	return d.store.Clear(ctx)
}

// Ping reports whether the cache index is reachable.
func (d *DataService) Ping(ctx context.Context) error {
	return d.store.Ping(ctx)
}

// SourceAvailability lists which sources are configured.
type SourceAvailability struct {
	Live       bool `json:"live"`
	Historical bool `json:"historical"`
	Mock       bool `json:"mock"`
}

// FeedCacheStats reports live feed response cache effectiveness.
type FeedCacheStats struct {
	Hits     uint64  `json:"hits"`
	Misses   uint64  `json:"misses"`
	HitRatio float64 `json:"hit_ratio"`
}

// Status is the service status report.
type Status struct {
	Environment       string             `json:"environment"`
	DefaultSource     Source             `json:"default_source"`
	Sources           SourceAvailability `json:"sources"`
	AllowMockFallback bool               `json:"allow_mock_fallback"`
	RecordLive        bool               `json:"record_live"`
	Historical        historical.Status  `json:"historical"`
	FeedCache         *FeedCacheStats    `json:"feed_cache,omitempty"`
	Timestamp         time.Time          `json:"timestamp"`
}

// Status reports configured sources and cache totals.
func (d *DataService) Status() Status {
	st := Status{
		Environment:   d.opts.Environment,
		DefaultSource: d.opts.DefaultSource,
		Sources: SourceAvailability{
			Live:       d.live != nil,
			Historical: d.historical != nil,
			Mock:       d.mock != nil,
		},
		AllowMockFallback: d.opts.AllowMockFallback,
		RecordLive:        d.opts.RecordLive,
		Historical:        d.historical.Status(),
		Timestamp:         d.now(),
	}
	if s, ok := d.live.(interface {
		Stats() (uint64, uint64, float64)
	}); ok {
		hits, misses, ratio := s.Stats()
		st.FeedCache = &FeedCacheStats{Hits: hits, Misses: misses, HitRatio: ratio}
	}
	metrics.UpdateStoreEntries(st.Historical.Cache.TotalEntries)
	return st
}

func (d *DataService) mockAllowed() bool {
	return d.opts.AllowMockFallback && d.mock != nil
}

func pastWarning(info deadline.Info) string {
	return "Past data: " + info.Describe()
}

// attempt is one step of an auto-mode fallback chain.
type attempt[T any] struct {
	source string
	run    func(context.Context) (T, error)
}

// runChain tries each attempt in order and returns the first success.
// Caller errors and cancellation stop the chain immediately.
func runChain[T any](ctx context.Context, d *DataService, subject string, attempts []attempt[T]) (T, error) {
	var zero T
	var lastErr error
	for i, a := range attempts {
		v, err := a.run(ctx)
		observe(a.source, err)
		if err == nil {
			return v, nil
		}
		if !fallbackAllowed(ctx, err) {
			return zero, err
		}
		lastErr = err

		if i+1 < len(attempts) {
			next := attempts[i+1].source
			metrics.RecordFallback(a.source, next)
			d.audit.LogSourceFallback(subject, a.source, next, err)
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no sources configured")
	}
	return zero, fmt.Errorf("%w: every source failed for %s: %w", models.ErrSourceUnavailable, subject, lastErr)
}

func fallbackAllowed(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	switch {
	case errors.Is(err, models.ErrInvalidHorizon),
		errors.Is(err, models.ErrInvalidRaceKey),
		errors.Is(err, models.ErrInvalidDate):
		return false
	}
	return true
}

func observe(source string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	metrics.RecordSourceRequest(source, outcome)
}
