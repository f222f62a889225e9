package datasource

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourusername/keiba-odds/internal/config"
)

// NewFromConfig builds the live feed fetcher, or returns nil when no feed is
// configured. The returned fetcher is cached when TTLs are non-zero.
func NewFromConfig(cfg *config.Config, logger *logrus.Logger) (Fetcher, error) {
	if !cfg.FeedConfigured() {
		return nil, nil
	}

	httpCfg := DefaultHTTPClientConfig()
	if cfg.Feed.TimeoutSeconds > 0 {
		httpCfg.Timeout = time.Duration(cfg.Feed.TimeoutSeconds) * time.Second
	}
	httpCfg.MaxRetries = cfg.Feed.MaxRetries
	if cfg.Feed.RequestsPerSecond > 0 {
		httpCfg.RateLimit = cfg.Feed.RequestsPerSecond
	}
	if cfg.Feed.Burst > 0 {
		httpCfg.Burst = cfg.Feed.Burst
	}

	client, err := NewFeedClient(FeedClientConfig{
		BaseURL:    cfg.Feed.BaseURL,
		ServiceKey: cfg.Feed.ServiceKey,
		HTTP:       httpCfg,
	}, logger)
	if err != nil {
		return nil, err
	}

	oddsTTL := time.Duration(cfg.Feed.OddsCacheTTLSeconds) * time.Second
	raceListTTL := time.Duration(cfg.Feed.RaceListCacheTTLSeconds) * time.Second
	if oddsTTL == 0 && raceListTTL == 0 {
		return client, nil
	}
	return NewCachedFetcher(client, oddsTTL, raceListTTL, logger), nil
}
