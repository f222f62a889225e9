// Package store persists race lists and odds snapshots on local disk.
//
// Payloads are JSON files laid out as <root>/<date>/<raceKey>.json (race
// lists as <root>/<date>/races.json). A SQLite index is the authoritative
// enumeration of what is cached: a payload is written first and indexed
// second, and pruning removes the index entry before the payload, so a
// crash can leave an orphaned file but never a dangling index entry.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourusername/keiba-odds/internal/logger"
	"github.com/yourusername/keiba-odds/internal/metrics"
	"github.com/yourusername/keiba-odds/internal/models"
)

const (
	indexFileName    = "cache_index.db"
	raceListFileName = "races.json"
	tmpPrefix        = ".tmp-"
)

// Options configures a Store.
type Options struct {
	RootDir  string
	Location *time.Location
	Now      func() time.Time
	Logger   *logrus.Logger
}

// Store is the on-disk snapshot cache.
type Store struct {
	root  string
	loc   *time.Location
	now   func() time.Time
	idx   *index
	locks *keyedMutex
	dirs  *keyedMutex
	log   *logrus.Logger
	audit *logger.CacheAuditLogger
}

// Stats summarizes the cache contents.
type Stats struct {
	RootDir      string   `json:"root_dir"`
	TotalEntries int      `json:"total_entries"`
	TotalRaces   int      `json:"total_races"`
	TotalDates   int      `json:"total_dates"`
	Dates        []string `json:"dates"`
}

// New opens or creates a store rooted at opts.RootDir.
func New(opts Options) (*Store, error) {
	if opts.RootDir == "" {
		return nil, errors.New("store root directory is required")
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if err := os.MkdirAll(opts.RootDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	idx, err := openIndex(filepath.Join(opts.RootDir, indexFileName))
	if err != nil {
		return nil, err
	}

	s := &Store{
		root:  opts.RootDir,
		loc:   opts.Location,
		now:   opts.Now,
		idx:   idx,
		locks: newKeyedMutex(),
		dirs:  newKeyedMutex(),
		log:   opts.Logger,
		audit: logger.NewCacheAuditLogger(opts.Logger),
	}
	metrics.UpdateStoreEntries(idx.len())
	s.log.WithFields(logrus.Fields{
		"root":    s.root,
		"entries": idx.len(),
	}).Info("Snapshot store opened")
	return s, nil
}

// Close releases the index database.
func (s *Store) Close() error {
	return s.idx.close()
}

// Ping checks the index database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.idx.ping(ctx)
}

// Put writes payload for (date, key), replacing any previous entry.
func (s *Store) Put(ctx context.Context, date string, key models.RaceKey, payload *models.RacePayload) error {
	if payload == nil {
		return errors.New("payload is required")
	}
	unlock := s.locks.Lock(lockKey(date, key.String()))
	defer unlock()

	p := *payload
	p.RaceKey = key
	if err := s.writeLocked(ctx, date, key.String(), &p); err != nil {
		return err
	}
	metrics.RecordStoreWrite("odds")
	s.audit.LogCacheWrite(date, key.String(), "odds", len(p.Snapshots))
	return nil
}

// AppendSnapshot records snap for its race, keeping at most one recording
// per capture instant. race, when non-nil, replaces the stored summary.
func (s *Store) AppendSnapshot(ctx context.Context, race *models.RaceSummary, snap models.OddsSnapshot) error {
	if snap.IsSynthetic {
		return errors.New("synthetic snapshots are never persisted")
	}
	key := snap.RaceKey
	date := key.Date()
	unlock := s.locks.Lock(lockKey(date, key.String()))
	defer unlock()

	payload := &models.RacePayload{RaceKey: key}
	if _, ok := s.idx.get(date, key.String()); ok {
		existing, err := s.readPayload(date, key.String())
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return err
		}
		if existing != nil {
			payload = existing
		}
	}
	if race != nil {
		r := *race
		payload.Race = &r
	}
	payload.Upsert(snap)

	if err := s.writeLocked(ctx, date, key.String(), payload); err != nil {
		return err
	}
	metrics.RecordStoreWrite("snapshot")
	s.audit.LogCacheWrite(date, key.String(), "snapshot", len(payload.Snapshots))
	return nil
}

// Get returns the payload for (date, key) or ErrNotFound.
func (s *Store) Get(ctx context.Context, date string, key models.RaceKey) (*models.RacePayload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock := s.locks.RLock(lockKey(date, key.String()))
	defer unlock()

	if _, ok := s.idx.get(date, key.String()); !ok {
		metrics.RecordStoreLookup(false)
		return nil, fmt.Errorf("race %s on %s: %w", key, date, models.ErrNotFound)
	}
	p, err := s.readPayload(date, key.String())
	metrics.RecordStoreLookup(err == nil)
	return p, err
}

// Has reports whether (date, key) is indexed. It never reads payloads.
func (s *Store) Has(date string, key models.RaceKey) bool {
	_, ok := s.idx.get(date, key.String())
	return ok
}

// ListRaces returns every cached race key for date.
func (s *Store) ListRaces(date string) []models.RaceKey {
	entries := s.idx.snapshot(func(e models.CacheIndexEntry) bool {
		return e.Date == date && e.RaceKey != raceListKey
	})
	out := make([]models.RaceKey, 0, len(entries))
	for _, e := range entries {
		k, err := models.ParseRaceKey(e.RaceKey)
		if err != nil {
			s.log.WithError(err).WithField("race_key", e.RaceKey).Warn("Skipping malformed index entry")
			continue
		}
		out = append(out, k)
	}
	return out
}

// PutRaceList caches the race list for date.
func (s *Store) PutRaceList(ctx context.Context, date string, races []models.RaceSummary) error {
	unlock := s.locks.Lock(lockKey(date, raceListKey))
	defer unlock()

	if races == nil {
		races = []models.RaceSummary{}
	}
	if err := s.writeLocked(ctx, date, raceListKey, races); err != nil {
		return err
	}
	metrics.RecordStoreWrite("races")
	s.audit.LogCacheWrite(date, raceListKey, "races", len(races))
	return nil
}

// GetRaceList returns the cached race list for date or ErrNotFound.
func (s *Store) GetRaceList(ctx context.Context, date string) ([]models.RaceSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock := s.locks.RLock(lockKey(date, raceListKey))
	defer unlock()

	e, ok := s.idx.get(date, raceListKey)
	if !ok {
		metrics.RecordStoreLookup(false)
		return nil, fmt.Errorf("race list for %s: %w", date, models.ErrNotFound)
	}
	var races []models.RaceSummary
	if err := s.readJSON(e.Path, &races); err != nil {
		metrics.RecordStoreLookup(false)
		return nil, err
	}
	metrics.RecordStoreLookup(true)
	return races, nil
}

// HasRaceList reports whether a race list for date is indexed.
func (s *Store) HasRaceList(date string) bool {
	_, ok := s.idx.get(date, raceListKey)
	return ok
}

// PruneOlderThan removes entries dated before now minus days. Zero removes
// every entry. Returns the number of index entries removed.
func (s *Store) PruneOlderThan(ctx context.Context, days int) (int, error) {
	if days < 0 {
		return 0, fmt.Errorf("prune days must not be negative, got %d", days)
	}
	now := s.now().In(s.loc)
	cutoff := now.AddDate(0, 0, -days)
	cutoffDate := cutoff.Format(models.DateLayout)

	expired := func(date string) bool {
		return days == 0 || date < cutoffDate
	}

	removed, err := s.removeWhere(ctx, expired)
	metrics.RecordPrune(removed)
	metrics.UpdateStoreEntries(s.idx.len())
	if err != nil {
		return removed, err
	}
	s.audit.LogCachePrune(days, removed, cutoff)
	return removed, nil
}

// Clear removes every cached entry and payload.
func (s *Store) Clear(ctx context.Context) (int, error) {
	removed, err := s.removeWhere(ctx, func(string) bool { return true })
	metrics.UpdateStoreEntries(s.idx.len())
	if err != nil {
		return removed, err
	}
	s.audit.LogCacheClear(removed)
	return removed, nil
}

// Stats reports cache totals.
func (s *Store) Stats() Stats {
	entries := s.idx.snapshot(nil)
	dates := make([]string, 0)
	seen := make(map[string]bool)
	races := 0
	for _, e := range entries {
		if e.RaceKey != raceListKey {
			races++
		}
		if !seen[e.Date] {
			seen[e.Date] = true
			dates = append(dates, e.Date)
		}
	}
	return Stats{
		RootDir:      s.root,
		TotalEntries: len(entries),
		TotalRaces:   races,
		TotalDates:   len(dates),
		Dates:        dates,
	}
}

// Entries returns a copy of the index.
func (s *Store) Entries() []models.CacheIndexEntry {
	return s.idx.snapshot(nil)
}

func (s *Store) removeWhere(ctx context.Context, expired func(date string) bool) (int, error) {
	entries := s.idx.snapshot(func(e models.CacheIndexEntry) bool { return expired(e.Date) })

	removed := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if err := s.removeEntry(ctx, e); err != nil {
			return removed, err
		}
		removed++
	}

	if err := s.sweepOrphans(expired); err != nil {
		return removed, err
	}
	return removed, nil
}

func (s *Store) removeEntry(ctx context.Context, e models.CacheIndexEntry) error {
	unlock := s.locks.Lock(lockKey(e.Date, e.RaceKey))
	defer unlock()

	if err := s.idx.remove(ctx, e.Date, e.RaceKey); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.root, e.Path)); err != nil && !os.IsNotExist(err) {
		s.log.WithError(err).WithField("path", e.Path).Warn("Failed to remove payload, leaving orphan")
	}
	return nil
}

// sweepOrphans deletes unindexed files under expired date directories.
// It holds the date's directory lock exclusively, so no write into that
// date is in flight and any temp file found is a leftover.
func (s *Store) sweepOrphans(expired func(date string) bool) error {
	dirs, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("failed to list cache directory: %w", err)
	}
	for _, d := range dirs {
		date := d.Name()
		if !d.IsDir() || !isDateDir(date) || !expired(date) {
			continue
		}
		s.sweepDate(date)
	}
	return nil
}

func (s *Store) sweepDate(date string) {
	unlock := s.dirs.Lock(date)
	defer unlock()

	dir := filepath.Join(s.root, date)
	files, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	kept := 0
	for _, f := range files {
		name := f.Name()
		if _, indexed := s.idx.get(date, keyFromFileName(name)); indexed && !strings.HasPrefix(name, tmpPrefix) {
			kept++
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			kept++
		}
	}
	if kept == 0 {
		_ = os.Remove(dir)
	}
}

// writeLocked writes v and then indexes it. The caller holds the key lock;
// the date's directory lock is held shared so writes to different keys of
// one date proceed together while an orphan sweep of that date waits.
// Once the payload has landed the index update is not abandoned on
// cancellation, so a key is either fully written or untouched.
func (s *Store) writeLocked(ctx context.Context, date, raceKey string, v interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := models.ParseDate(date, s.loc); err != nil {
		return err
	}

	unlockDir := s.dirs.RLock(date)
	defer unlockDir()

	rel := payloadPath(date, raceKey)
	if err := s.writeJSON(rel, v); err != nil {
		return err
	}

	err := s.idx.upsert(context.WithoutCancel(ctx), models.CacheIndexEntry{
		Date:         date,
		RaceKey:      raceKey,
		Path:         rel,
		LastModified: s.now(),
	})
	if err != nil {
		return err
	}
	metrics.UpdateStoreEntries(s.idx.len())
	return nil
}

func (s *Store) readPayload(date, raceKey string) (*models.RacePayload, error) {
	e, ok := s.idx.get(date, raceKey)
	if !ok {
		return nil, fmt.Errorf("race %s on %s: %w", raceKey, date, models.ErrNotFound)
	}
	var p models.RacePayload
	if err := s.readJSON(e.Path, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) writeJSON(rel string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	full := filepath.Join(s.root, rel)
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create date directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write payload: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync payload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close payload: %w", err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move payload into place: %w", err)
	}
	return nil
}

func (s *Store) readJSON(rel string, v interface{}) error {
	data, err := os.ReadFile(filepath.Join(s.root, rel))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("payload %s missing: %w", rel, models.ErrNotFound)
		}
		return fmt.Errorf("failed to read payload: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode payload %s: %w", rel, err)
	}
	return nil
}

func isDateDir(name string) bool {
	if len(name) != len(models.DateLayout) {
		return false
	}
	_, err := time.Parse(models.DateLayout, name)
	return err == nil
}

func lockKey(date, raceKey string) string {
	return date + "/" + raceKey
}

func payloadPath(date, raceKey string) string {
	if raceKey == raceListKey {
		return filepath.Join(date, raceListFileName)
	}
	return filepath.Join(date, raceKey+".json")
}

func keyFromFileName(name string) string {
	if name == raceListFileName {
		return raceListKey
	}
	return strings.TrimSuffix(name, ".json")
}
