package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourusername/keiba-odds/internal/metrics"
	"github.com/yourusername/keiba-odds/internal/models"
	"github.com/yourusername/keiba-odds/internal/parser"
)

// FeedSourceName identifies the live feed in errors and envelopes.
const FeedSourceName = "live_feed"

// serviceKeyHeader carries the feed subscription key.
const serviceKeyHeader = "X-Service-Key"

// FeedClientConfig configures the feed bridge client.
type FeedClientConfig struct {
	BaseURL    string
	ServiceKey string
	HTTP       HTTPClientConfig
}

// FeedClient talks to the feed bridge over HTTP. Race lists arrive as JSON;
// odds arrive as raw fixed-width records decoded with the record parser.
type FeedClient struct {
	baseURL    string
	serviceKey string
	http       *RateLimitedHTTPClient
	logger     *logrus.Logger
	now        func() time.Time
}

type raceListResponse struct {
	Date  string               `json:"date"`
	Races []models.RaceSummary `json:"races"`
}

type rawRecord struct {
	RecordType string `json:"record_type"`
	Raw        string `json:"raw"`
}

type oddsResponse struct {
	RaceKey    string      `json:"race_key"`
	CapturedAt *time.Time  `json:"captured_at"`
	Records    []rawRecord `json:"records"`
}

// NewFeedClient creates a feed bridge client.
func NewFeedClient(cfg FeedClientConfig, logger *logrus.Logger) (*FeedClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("feed base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid feed base URL: %w", err)
	}
	return &FeedClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		serviceKey: cfg.ServiceKey,
		http:       NewRateLimitedHTTPClient(cfg.HTTP, logger),
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Name returns the name of the data source
func (c *FeedClient) Name() string {
	return FeedSourceName
}

// Close releases idle connections.
func (c *FeedClient) Close() error {
	return c.http.Close()
}

// FetchRaceList retrieves the races scheduled on date.
func (c *FeedClient) FetchRaceList(ctx context.Context, date string) ([]models.RaceSummary, error) {
	var body raceListResponse
	if err := c.getJSON(ctx, "races", "/races/"+url.PathEscape(date), &body); err != nil {
		return nil, err
	}
	if body.Races == nil {
		body.Races = []models.RaceSummary{}
	}
	return body.Races, nil
}

// FetchOdds retrieves and parses the current odds records for a race.
// Records that fail to parse are logged and skipped.
func (c *FeedClient) FetchOdds(ctx context.Context, key models.RaceKey) (*models.OddsSnapshot, error) {
	var body oddsResponse
	if err := c.getJSON(ctx, "odds", "/odds/"+key.String(), &body); err != nil {
		return nil, err
	}

	snap := &models.OddsSnapshot{
		RaceKey:    key,
		CapturedAt: c.now(),
		Entries:    make([]models.OddsRecord, 0, len(body.Records)),
	}
	if body.CapturedAt != nil {
		snap.CapturedAt = *body.CapturedAt
	}

	for _, r := range body.Records {
		rec, err := parser.Parse(r.RecordType, []byte(r.Raw))
		if err != nil {
			metrics.RecordParseError(r.RecordType)
			c.logger.WithError(err).WithFields(logrus.Fields{
				"race_key":    key.String(),
				"record_type": r.RecordType,
			}).Warn("Skipping malformed odds record")
			continue
		}
		snap.Entries = append(snap.Entries, *rec)
	}
	return snap, nil
}

func (c *FeedClient) getJSON(ctx context.Context, operation, path string, out interface{}) error {
	start := time.Now()
	defer func() {
		metrics.RecordFeedFetch(operation, time.Since(start).Seconds())
	}()

	header := http.Header{}
	header.Set("Accept", "application/json")
	if c.serviceKey != "" {
		header.Set(serviceKeyHeader, c.serviceKey)
	}

	resp, err := c.http.Get(ctx, c.baseURL+path, header)
	if err != nil {
		fe := classify(FeedSourceName, operation+" request failed", err)
		metrics.RecordFeedError(fe.Code)
		return fe
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fe := statusError(operation, resp)
		metrics.RecordFeedError(fe.Code)
		return fe
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		metrics.RecordFeedError(ErrCodeInvalidData)
		return NewFetchError(FeedSourceName, ErrCodeInvalidData, "failed to decode "+operation+" response", err)
	}
	return nil
}

func statusError(operation string, resp *http.Response) *FetchError {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := fmt.Sprintf("%s returned HTTP %d: %s", operation, resp.StatusCode, strings.TrimSpace(string(snippet)))

	code := ErrCodeUnknown
	switch {
	case resp.StatusCode == http.StatusNotFound:
		code = ErrCodeNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		code = ErrCodeAuthenticationFailed
	case resp.StatusCode == http.StatusTooManyRequests:
		code = ErrCodeRateLimitExceeded
	case resp.StatusCode >= 500:
		code = ErrCodeServerError
	}
	return NewFetchError(FeedSourceName, code, msg, nil)
}
