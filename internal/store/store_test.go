package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/keiba-odds/internal/models"
)

var testNow = time.Date(2025, 11, 2, 9, 57, 30, 0, time.UTC)

func newTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := New(Options{
		RootDir:  dir,
		Location: time.UTC,
		Now:      func() time.Time { return testNow },
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func samplePayload(key models.RaceKey, capturedAt time.Time) *models.RacePayload {
	post, _ := key.PostTimeAt("10:00", time.UTC)
	return &models.RacePayload{
		RaceKey: key,
		Race: &models.RaceSummary{
			RaceKey:    key,
			Name:       "Maiden",
			RaceNumber: key.RaceNumber,
			Venue:      "Tokyo",
			PostTime:   post,
			Distance:   1600,
			Surface:    "turf",
		},
		Snapshots: []models.OddsSnapshot{{
			RaceKey:    key,
			CapturedAt: capturedAt,
			Entries: []models.OddsRecord{{
				RecordType: models.RecordWinPlace,
				Win:        []models.SelectionOdds{{Number: 1, Odds: 2.5}, {Number: 2, Odds: 7.1}},
				Place:      []models.BandOdds{{Number: 1, Min: 1.2, Max: 1.6}},
			}},
		}},
		CachedAt: capturedAt,
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	ctx := context.Background()
	key := models.MustParseRaceKey("2025110205041101")
	payload := samplePayload(key, time.Date(2025, 11, 2, 9, 58, 30, 0, time.UTC))

	require.NoError(t, s.Put(ctx, key.Date(), key, payload))
	assert.True(t, s.Has(key.Date(), key))

	got, err := s.Get(ctx, key.Date(), key)
	require.NoError(t, err)
	assert.Equal(t, payload.RaceKey, got.RaceKey)
	require.Len(t, got.Snapshots, 1)
	assert.True(t, payload.Snapshots[0].CapturedAt.Equal(got.Snapshots[0].CapturedAt))
	assert.Equal(t, payload.Snapshots[0].Entries, got.Snapshots[0].Entries)
	assert.Equal(t, "Tokyo", got.Race.Venue)

	// Idempotent overwrite.
	require.NoError(t, s.Put(ctx, key.Date(), key, payload))
	assert.Len(t, s.ListRaces(key.Date()), 1)
}

func TestGetMissingIsNotFound(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	key := models.MustParseRaceKey("2025110205041101")

	_, err := s.Get(context.Background(), key.Date(), key)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.False(t, s.Has(key.Date(), key))
}

func TestHasIgnoresStrayPayloads(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir)
	key := models.MustParseRaceKey("2025110205041101")

	require.NoError(t, os.MkdirAll(filepath.Join(dir, key.Date()), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, key.Date(), key.String()+".json"), []byte(`{}`), 0o644))

	assert.False(t, s.Has(key.Date(), key))
	_, err := s.Get(context.Background(), key.Date(), key)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestIndexSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	key := models.MustParseRaceKey("2025110205041101")

	s, err := New(Options{RootDir: dir})
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), key.Date(), key, samplePayload(key, testNow)))
	require.NoError(t, s.Close())

	reopened := newTestStore(t, dir)
	assert.True(t, reopened.Has(key.Date(), key))
	assert.Equal(t, []models.RaceKey{key}, reopened.ListRaces(key.Date()))
}

func TestListRacesExcludesRaceList(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	ctx := context.Background()
	k1 := models.MustParseRaceKey("2025110205041101")
	k2 := models.MustParseRaceKey("2025110205041102")
	other := models.MustParseRaceKey("2025110305041101")

	require.NoError(t, s.Put(ctx, k1.Date(), k1, samplePayload(k1, testNow)))
	require.NoError(t, s.Put(ctx, k2.Date(), k2, samplePayload(k2, testNow)))
	require.NoError(t, s.Put(ctx, other.Date(), other, samplePayload(other, testNow)))
	require.NoError(t, s.PutRaceList(ctx, k1.Date(), []models.RaceSummary{*samplePayload(k1, testNow).Race}))

	assert.ElementsMatch(t, []models.RaceKey{k1, k2}, s.ListRaces("20251102"))
	assert.True(t, s.HasRaceList("20251102"))

	races, err := s.GetRaceList(ctx, "20251102")
	require.NoError(t, err)
	require.Len(t, races, 1)
	assert.Equal(t, k1, races[0].RaceKey)

	_, err = s.GetRaceList(ctx, "20251103")
	assert.ErrorIs(t, err, models.ErrNotFound)

	stats := s.Stats()
	assert.Equal(t, 4, stats.TotalEntries)
	assert.Equal(t, 3, stats.TotalRaces)
	assert.Equal(t, 2, stats.TotalDates)
}

func TestPruneOlderThan(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	ctx := context.Background()

	recent := models.MustParseRaceKey("2025110205041101")
	old := models.MustParseRaceKey("2024092805041101") // 400 days before testNow
	require.NoError(t, s.Put(ctx, recent.Date(), recent, samplePayload(recent, testNow)))
	require.NoError(t, s.Put(ctx, old.Date(), old, samplePayload(old, testNow.AddDate(0, 0, -400))))

	removed, err := s.PruneOlderThan(ctx, 365)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.True(t, s.Has(recent.Date(), recent))
	assert.False(t, s.Has(old.Date(), old))
	assert.NoDirExists(t, filepath.Join(s.root, old.Date()))
}

func TestPruneZeroRemovesEverything(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	ctx := context.Background()
	key := models.MustParseRaceKey("2025110205041101")
	future := models.MustParseRaceKey("2025110905041101")

	require.NoError(t, s.Put(ctx, key.Date(), key, samplePayload(key, testNow)))
	require.NoError(t, s.Put(ctx, future.Date(), future, samplePayload(future, testNow)))
	require.NoError(t, s.PutRaceList(ctx, key.Date(), nil))

	removed, err := s.PruneOlderThan(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.Empty(t, s.Entries())
}

func TestPruneRejectsNegativeDays(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	_, err := s.PruneOlderThan(context.Background(), -1)
	assert.Error(t, err)
}

func TestPruneSweepsOrphans(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir)
	orphanDir := filepath.Join(dir, "20230101")
	require.NoError(t, os.MkdirAll(orphanDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(orphanDir, "2023010105010101.json"), []byte(`{}`), 0o644))

	_, err := s.PruneOlderThan(context.Background(), 365)
	require.NoError(t, err)
	assert.NoDirExists(t, orphanDir)
}

func TestPruneSweepsLeftoverTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir)
	ctx := context.Background()
	key := models.MustParseRaceKey("2023010105010101")
	require.NoError(t, s.Put(ctx, key.Date(), key, samplePayload(key, testNow)))
	leftover := filepath.Join(dir, key.Date(), tmpPrefix+"123")
	require.NoError(t, os.WriteFile(leftover, []byte(`{`), 0o644))

	_, err := s.PruneOlderThan(ctx, 365)
	require.NoError(t, err)
	assert.NoFileExists(t, leftover)
	assert.NoDirExists(t, filepath.Join(dir, key.Date()))
}

func TestPruneDoesNotBreakConcurrentWrites(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	ctx := context.Background()
	key := models.MustParseRaceKey("2025110205041101")
	other := models.MustParseRaceKey("2025110205041102")
	payload := samplePayload(key, testNow)

	done := make(chan struct{})
	var failures []error
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, k := range []models.RaceKey{key, other} {
		wg.Add(1)
		go func(k models.RaceKey) {
			defer wg.Done()
			for i := 0; i < 300; i++ {
				if err := s.Put(ctx, k.Date(), k, payload); err != nil {
					mu.Lock()
					failures = append(failures, err)
					mu.Unlock()
				}
			}
		}(k)
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		select {
		case <-done:
			assert.Empty(t, failures)
			require.NoError(t, s.Put(ctx, key.Date(), key, payload))
			_, err := s.Get(ctx, key.Date(), key)
			assert.NoError(t, err)
			return
		default:
			_, err := s.PruneOlderThan(ctx, 0)
			require.NoError(t, err)
		}
	}
}

func TestClear(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	ctx := context.Background()
	key := models.MustParseRaceKey("2025110205041101")
	require.NoError(t, s.Put(ctx, key.Date(), key, samplePayload(key, testNow)))

	removed, err := s.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.False(t, s.Has(key.Date(), key))
	assert.Equal(t, 0, s.Stats().TotalEntries)
}

func TestAppendSnapshotKeepsOnePerInstant(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	ctx := context.Background()
	key := models.MustParseRaceKey("2025110205041101")
	race := samplePayload(key, testNow).Race
	at := time.Date(2025, 11, 2, 9, 50, 0, 0, time.UTC)

	require.NoError(t, s.AppendSnapshot(ctx, race, models.OddsSnapshot{RaceKey: key, CapturedAt: at}))
	require.NoError(t, s.AppendSnapshot(ctx, nil, models.OddsSnapshot{RaceKey: key, CapturedAt: at.Add(time.Minute)}))
	require.NoError(t, s.AppendSnapshot(ctx, nil, models.OddsSnapshot{
		RaceKey:    key,
		CapturedAt: at,
		Entries:    []models.OddsRecord{{RecordType: models.RecordQuinella}},
	}))

	got, err := s.Get(ctx, key.Date(), key)
	require.NoError(t, err)
	require.Len(t, got.Snapshots, 2)
	require.NotNil(t, got.Race)
	assert.Equal(t, models.RecordQuinella, got.Snapshots[0].Entries[0].RecordType)

	err = s.AppendSnapshot(ctx, nil, models.OddsSnapshot{RaceKey: key, CapturedAt: at, IsSynthetic: true})
	assert.Error(t, err)
}

func TestConcurrentAppendsToSameKeyAreSerialized(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	ctx := context.Background()
	key := models.MustParseRaceKey("2025110205041101")
	base := time.Date(2025, 11, 2, 9, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap := models.OddsSnapshot{RaceKey: key, CapturedAt: base.Add(time.Duration(i) * time.Second)}
			assert.NoError(t, s.AppendSnapshot(ctx, nil, snap))
		}(i)
	}
	wg.Wait()

	got, err := s.Get(ctx, key.Date(), key)
	require.NoError(t, err)
	assert.Len(t, got.Snapshots, 20)
}

func TestCancelledPutWritesNothing(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	key := models.MustParseRaceKey("2025110205041101")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Put(ctx, key.Date(), key, samplePayload(key, testNow))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, s.Has(key.Date(), key))
	assert.NoFileExists(t, filepath.Join(s.root, key.Date(), key.String()+".json"))
}

func TestPing(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	assert.NoError(t, s.Ping(context.Background()))
}
