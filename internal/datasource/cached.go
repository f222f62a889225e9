package datasource

import (
	"context"
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/keiba-odds/internal/metrics"
	"github.com/yourusername/keiba-odds/internal/models"
)

// CachedFetcher wraps a Fetcher with short-lived in-memory response caching
// so bursts of requests for one race hit the feed once per TTL.
type CachedFetcher struct {
	next        Fetcher
	cache       *cache.Cache
	oddsTTL     time.Duration
	raceListTTL time.Duration
	logger      *logrus.Logger

	mu        sync.Mutex
	hitCount  uint64
	missCount uint64
}

// NewCachedFetcher creates a cached fetcher. A zero TTL disables caching
// for that kind of response.
func NewCachedFetcher(next Fetcher, oddsTTL, raceListTTL time.Duration, logger *logrus.Logger) *CachedFetcher {
	cleanup := oddsTTL
	if raceListTTL > cleanup {
		cleanup = raceListTTL
	}
	if cleanup <= 0 {
		cleanup = time.Minute
	}
	return &CachedFetcher{
		next:        next,
		cache:       cache.New(cleanup, cleanup*2),
		oddsTTL:     oddsTTL,
		raceListTTL: raceListTTL,
		logger:      logger,
	}
}

// Name returns the wrapped fetcher's name.
func (c *CachedFetcher) Name() string {
	return c.next.Name()
}

// FetchRaceList returns a cached race list when fresh.
func (c *CachedFetcher) FetchRaceList(ctx context.Context, date string) ([]models.RaceSummary, error) {
	key := "races:" + date
	if v, ok := c.lookup(key); ok {
		races := v.([]models.RaceSummary)
		return append([]models.RaceSummary(nil), races...), nil
	}

	races, err := c.next.FetchRaceList(ctx, date)
	if err != nil {
		return nil, err
	}
	if c.raceListTTL > 0 {
		c.cache.Set(key, append([]models.RaceSummary(nil), races...), c.raceListTTL)
	}
	return races, nil
}

// FetchOdds returns a cached snapshot when fresh.
func (c *CachedFetcher) FetchOdds(ctx context.Context, raceKey models.RaceKey) (*models.OddsSnapshot, error) {
	key := "odds:" + raceKey.String()
	if v, ok := c.lookup(key); ok {
		return v.(*models.OddsSnapshot).Clone(), nil
	}

	snap, err := c.next.FetchOdds(ctx, raceKey)
	if err != nil {
		return nil, err
	}
	if c.oddsTTL > 0 {
		c.cache.Set(key, snap.Clone(), c.oddsTTL)
	}
	return snap, nil
}

// Invalidate drops the cached odds for a race and the race list of its date.
func (c *CachedFetcher) Invalidate(raceKey models.RaceKey) {
	c.cache.Delete("odds:" + raceKey.String())
	c.cache.Delete("races:" + raceKey.Date())
}

// Stats returns cache statistics
func (c *CachedFetcher) Stats() (hits, misses uint64, ratio float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hits = c.hitCount
	misses = c.missCount
	if total := hits + misses; total > 0 {
		ratio = float64(hits) / float64(total)
	}
	return
}

func (c *CachedFetcher) lookup(key string) (interface{}, bool) {
	v, found := c.cache.Get(key)

	c.mu.Lock()
	if found {
		c.hitCount++
	} else {
		c.missCount++
	}
	c.mu.Unlock()

	_, _, ratio := c.Stats()
	metrics.UpdateFeedCacheHitRatio(ratio)

	if c.logger != nil {
		c.logger.WithFields(logrus.Fields{"cache_key": key, "hit": found}).Debug("Feed cache lookup")
	}
	return v, found
}
