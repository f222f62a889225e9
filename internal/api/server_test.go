package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/keiba-odds/internal/logger"
	"github.com/yourusername/keiba-odds/internal/models"
	"github.com/yourusername/keiba-odds/internal/service"
)

const testRaceKey = "2025110205041101"

type fakeService struct {
	mu          sync.Mutex
	oddsErr     error
	pingErr     error
	lastSource  service.Source
	lastHorizon *int
	prunedDays  int
	oddsCalls   int
}

func (f *fakeService) GetOdds(ctx context.Context, key models.RaceKey, src service.Source, h *int) (*service.OddsEnvelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.oddsCalls++
	f.lastSource = src
	f.lastHorizon = h
	if f.oddsErr != nil {
		return nil, f.oddsErr
	}
	return &service.OddsEnvelope{
		RaceKey:               key,
		Odds:                  []models.OddsRecord{{RecordType: models.RecordWinPlace}},
		Count:                 1,
		DataSource:            service.DataSourceHistorical,
		IsPastData:            h != nil,
		SecondsBeforeDeadline: h,
	}, nil
}

func (f *fakeService) GetRaceList(ctx context.Context, date string, src service.Source) (*service.RaceListEnvelope, error) {
	if _, err := models.ParseDate(date, nil); err != nil {
		return nil, err
	}
	return &service.RaceListEnvelope{Date: date, Races: []models.RaceSummary{}, DataSource: service.DataSourceMock}, nil
}

func (f *fakeService) GetRaceDetail(ctx context.Context, key models.RaceKey, src service.Source) (*service.RaceDetailEnvelope, error) {
	return nil, fmt.Errorf("race %s: %w", key, models.ErrNoCachedData)
}

func (f *fakeService) PruneCache(ctx context.Context, days int) (*service.PruneResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prunedDays = days
	return &service.PruneResult{OlderThanDays: days, Removed: 2}, nil
}

func (f *fakeService) Status() service.Status {
	return service.Status{Environment: "test"}
}

func (f *fakeService) Ping(ctx context.Context) error {
	return f.pingErr
}

func newTestServer(svc *fakeService) *Server {
	return NewServer(Config{
		ServiceName:          "keiba-odds-test",
		CORSOrigins:          []string{"*"},
		UpdateInterval:       time.Hour,
		PingInterval:         time.Hour,
		PongTimeout:          2 * time.Hour,
		DefaultRetentionDays: 365,
		MetricsEnabled:       true,
		Logger:               logger.Discard(),
	}, svc)
}

func doRequest(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(&fakeService{})
	rec := doRequest(t, s, http.MethodGet, "/api/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "keiba-odds-test", body.Service)
}

func TestReady(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(svc)

	rec := doRequest(t, s, http.MethodGet, "/api/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s.SetReady(true)
	rec = doRequest(t, s, http.MethodGet, "/api/ready")
	assert.Equal(t, http.StatusOK, rec.Code)

	svc.pingErr = errors.New("database is locked")
	rec = doRequest(t, s, http.MethodGet, "/api/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body ReadyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Checks["cache_index"], "database is locked")
}

func TestOddsParsesQuery(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(svc)

	rec := doRequest(t, s, http.MethodGet, "/api/odds/"+testRaceKey+"?data_source=historical&seconds_before_deadline=300")
	require.Equal(t, http.StatusOK, rec.Code)

	var env service.OddsEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.True(t, env.IsPastData)
	assert.Equal(t, testRaceKey, env.RaceKey.String())

	assert.Equal(t, service.SourceHistorical, svc.lastSource)
	require.NotNil(t, svc.lastHorizon)
	assert.Equal(t, 300, *svc.lastHorizon)

	rec = doRequest(t, s, http.MethodGet, "/api/odds/"+testRaceKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.SourceDefault, svc.lastSource)
	assert.Nil(t, svc.lastHorizon)

	rec = doRequest(t, s, http.MethodGet, "/api/odds/"+testRaceKey+"?data_source=auto")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.SourceAuto, svc.lastSource)
}

func TestOddsRejectsBadParameters(t *testing.T) {
	s := newTestServer(&fakeService{})

	for _, target := range []string{
		"/api/odds/12345",
		"/api/odds/" + testRaceKey + "?data_source=carrier-pigeon",
		"/api/odds/" + testRaceKey + "?seconds_before_deadline=soon",
	} {
		rec := doRequest(t, s, http.MethodGet, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), target)
		assert.Equal(t, http.StatusBadRequest, body.Code)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("race: %w", models.ErrNoCachedData), http.StatusNotFound},
		{models.ErrInvalidHorizon, http.StatusBadRequest},
		{models.ErrUnsupportedForSource, http.StatusBadRequest},
		{models.ErrSourceUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: %w", models.ErrSourceUnavailable, models.ErrFetchFailed), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: %w", models.ErrSourceUnavailable, models.ErrFetchTimeout), http.StatusGatewayTimeout},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		svc := &fakeService{oddsErr: tt.err}
		rec := doRequest(t, newTestServer(svc), http.MethodGet, "/api/odds/"+testRaceKey)
		assert.Equal(t, tt.want, rec.Code, tt.err.Error())
	}
}

func TestRaceEndpoints(t *testing.T) {
	s := newTestServer(&fakeService{})

	rec := doRequest(t, s, http.MethodGet, "/api/races/20251102")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/api/races/yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/api/race/"+testRaceKey)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPrune(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(svc)

	rec := doRequest(t, s, http.MethodPost, "/api/cache/prune")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 365, svc.prunedDays)

	rec = doRequest(t, s, http.MethodPost, "/api/cache/prune?older_than_days=0")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, svc.prunedDays)

	rec = doRequest(t, s, http.MethodPost, "/api/cache/prune?older_than_days=-3")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/api/cache/prune")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStatusAndMetrics(t *testing.T) {
	s := newTestServer(&fakeService{})

	rec := doRequest(t, s, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"subscriptions":0`)

	rec = doRequest(t, s, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOddsSubscription(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(svc)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	defer s.Shutdown()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/odds/" + testRaceKey + "?data_source=historical"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var initial SubscriptionMessage
	require.NoError(t, conn.ReadJSON(&initial))
	assert.Equal(t, MessageInitial, initial.Type)
	require.NotNil(t, initial.Data)
	assert.Equal(t, testRaceKey, initial.RaceKey.String())
	assert.Eventually(t, func() bool { return s.Hub().Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, msgType)
	assert.Equal(t, "pong", string(data))

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	assert.Eventually(t, func() bool { return s.Hub().Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestOddsSubscriptionRejectsBadRequest(t *testing.T) {
	s := newTestServer(&fakeService{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/odds/" + testRaceKey + "?seconds_before_deadline=-5"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
