package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/yourusername/keiba-odds/internal/models"
	"github.com/yourusername/keiba-odds/internal/service"
)

var errBadParameter = errors.New("invalid query parameter")

// HealthResponse represents the JSON response for health check endpoints.
type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Timestamp string `json:"timestamp,omitempty"`
	Version   string `json:"version,omitempty"`
}

// ReadyResponse represents the JSON response for readiness check endpoints.
type ReadyResponse struct {
	Status   string            `json:"status"`
	Service  string            `json:"service"`
	Checks   map[string]string `json:"checks,omitempty"`
	Duration string            `json:"duration,omitempty"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Service:   s.cfg.ServiceName,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   s.cfg.Version,
	})
}

// handleReady checks that the server is accepting traffic and the cache
// index answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	checks := make(map[string]string)
	allHealthy := true

	if !s.IsReady() {
		allHealthy = false
		checks["service"] = "not_ready"
	} else {
		checks["service"] = "ok"
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := s.svc.Ping(ctx); err != nil {
		allHealthy = false
		checks["cache_index"] = fmt.Sprintf("error: %v", err)
	} else {
		checks["cache_index"] = "ok"
	}

	response := ReadyResponse{
		Service:  s.cfg.ServiceName,
		Checks:   checks,
		Duration: time.Since(start).String(),
	}
	if allHealthy {
		response.Status = "ok"
		respondJSON(w, http.StatusOK, response)
		return
	}
	response.Status = "not_ready"
	respondJSON(w, http.StatusServiceUnavailable, response)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"service":       s.cfg.ServiceName,
		"version":       s.cfg.Version,
		"data":          s.svc.Status(),
		"subscriptions": s.hub.Count(),
	})
}

// handleRaceList serves GET /api/races/{date}?data_source=
func (s *Server) handleRaceList(w http.ResponseWriter, r *http.Request) {
	src, err := service.ParseSource(r.URL.Query().Get("data_source"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	env, err := s.svc.GetRaceList(r.Context(), chi.URLParam(r, "date"), src)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, env)
}

// handleRaceDetail serves GET /api/race/{raceKey}?data_source=
func (s *Server) handleRaceDetail(w http.ResponseWriter, r *http.Request) {
	key, err := models.ParseRaceKey(chi.URLParam(r, "raceKey"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	src, err := service.ParseSource(r.URL.Query().Get("data_source"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	env, err := s.svc.GetRaceDetail(r.Context(), key, src)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, env)
}

// handleOdds serves GET /api/odds/{raceKey}?data_source=&seconds_before_deadline=
func (s *Server) handleOdds(w http.ResponseWriter, r *http.Request) {
	key, src, horizon, err := parseOddsRequest(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	env, err := s.svc.GetOdds(r.Context(), key, src, horizon)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, env)
}

// handlePrune serves POST /api/cache/prune?older_than_days=
func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	days := s.cfg.DefaultRetentionDays
	if raw := r.URL.Query().Get("older_than_days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.respondError(w, r, fmt.Errorf("%w: older_than_days=%q", errBadParameter, raw))
			return
		}
		days = n
	}

	res, err := s.svc.PruneCache(r.Context(), days)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// parseOddsRequest reads the race key, source and optional horizon shared
// by the odds endpoint and odds subscriptions.
func parseOddsRequest(r *http.Request) (models.RaceKey, service.Source, *int, error) {
	key, err := models.ParseRaceKey(chi.URLParam(r, "raceKey"))
	if err != nil {
		return models.RaceKey{}, service.SourceDefault, nil, err
	}
	q := r.URL.Query()
	src, err := service.ParseSource(q.Get("data_source"))
	if err != nil {
		return models.RaceKey{}, service.SourceDefault, nil, err
	}

	var horizon *int
	if raw := q.Get("seconds_before_deadline"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return models.RaceKey{}, service.SourceDefault, nil,
				fmt.Errorf("%w: seconds_before_deadline=%q", errBadParameter, raw)
		}
		horizon = &n
	}
	return key, src, horizon, nil
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadParameter),
		errors.Is(err, service.ErrUnknownSource),
		errors.Is(err, models.ErrInvalidHorizon),
		errors.Is(err, models.ErrInvalidRaceKey),
		errors.Is(err, models.ErrInvalidDate),
		errors.Is(err, models.ErrUnsupportedForSource):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrFetchTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrSourceUnavailable),
		errors.Is(err, models.ErrFetchFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	entry := s.logger.WithError(err).WithField("path", r.URL.Path)
	if status >= http.StatusInternalServerError {
		entry.Warn("Request failed")
	} else {
		entry.Debug("Request rejected")
	}

	respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: err.Error(),
		Code:    status,
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
