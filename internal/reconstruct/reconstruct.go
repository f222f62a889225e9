// Package reconstruct produces synthetic odds snapshots for instants before
// the betting deadline for which no recording exists.
package reconstruct

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yourusername/keiba-odds/internal/deadline"
	"github.com/yourusername/keiba-odds/internal/metrics"
	"github.com/yourusername/keiba-odds/internal/models"
)

// Config controls the volatility curve and odds floors.
type Config struct {
	// BaseVolatility applies at the deadline.
	BaseVolatility float64
	// MaxVolatility applies at SaturationSeconds before the deadline and beyond.
	MaxVolatility     float64
	SaturationSeconds int
	MinWinOdds        float64
	MinPlaceOdds      float64
	// Seed fixes the random source; zero seeds from the clock.
	Seed int64
}

// DefaultConfig returns a 10% to 20% volatility curve saturating at one hour.
func DefaultConfig() Config {
	return Config{
		BaseVolatility:    0.10,
		MaxVolatility:     0.20,
		SaturationSeconds: 3600,
		MinWinOdds:        1.0,
		MinPlaceOdds:      1.0,
	}
}

// Reconstructor perturbs a baseline snapshot. Safe for concurrent use.
type Reconstructor struct {
	cfg Config

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Reconstructor seeded from cfg.Seed.
func New(cfg Config) *Reconstructor {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return NewWithSource(cfg, rand.NewSource(seed))
}

// NewWithSource creates a Reconstructor drawing from src.
func NewWithSource(cfg Config, src rand.Source) *Reconstructor {
	def := DefaultConfig()
	if cfg.BaseVolatility <= 0 {
		cfg.BaseVolatility = def.BaseVolatility
	}
	if cfg.MaxVolatility < cfg.BaseVolatility {
		cfg.MaxVolatility = cfg.BaseVolatility
	}
	if cfg.SaturationSeconds <= 0 {
		cfg.SaturationSeconds = def.SaturationSeconds
	}
	if cfg.MinWinOdds <= 0 {
		cfg.MinWinOdds = def.MinWinOdds
	}
	if cfg.MinPlaceOdds <= 0 {
		cfg.MinPlaceOdds = def.MinPlaceOdds
	}
	return &Reconstructor{cfg: cfg, rng: rand.New(src)}
}

// Config returns the effective configuration.
func (r *Reconstructor) Config() Config {
	return r.cfg
}

// Volatility is the perturbation fraction for a horizon in seconds. It is
// non-decreasing in h.
func (r *Reconstructor) Volatility(h int) float64 {
	if h < 0 {
		h = 0
	}
	ratio := math.Min(float64(h)/float64(r.cfg.SaturationSeconds), 1)
	return r.cfg.BaseVolatility + (r.cfg.MaxVolatility-r.cfg.BaseVolatility)*ratio
}

// Reconstruct returns a synthetic copy of baseline as it might have looked
// secondsBeforeDeadline seconds before info.Deadline. Win odds and place
// bands are perturbed; every other record type is copied unchanged.
func (r *Reconstructor) Reconstruct(baseline *models.OddsSnapshot, secondsBeforeDeadline int, info deadline.Info) (*models.OddsSnapshot, error) {
	if secondsBeforeDeadline < 0 {
		return nil, fmt.Errorf("%w: got %d", models.ErrInvalidHorizon, secondsBeforeDeadline)
	}
	if baseline == nil {
		return nil, errors.New("baseline snapshot is required")
	}

	f := r.Volatility(secondsBeforeDeadline)
	out := baseline.Clone()

	r.mu.Lock()
	for i := range out.Entries {
		rec := &out.Entries[i]
		if rec.RecordType != models.RecordWinPlace {
			continue
		}
		for j := range rec.Win {
			rec.Win[j].Odds = r.perturb(rec.Win[j].Odds, f, r.draw(), r.cfg.MinWinOdds)
		}
		for j := range rec.Place {
			p := &rec.Place[j]
			u := r.draw()
			lo := r.perturb(p.Min, f, u, r.cfg.MinPlaceOdds)
			hi := r.perturb(p.Max, f, u, r.cfg.MinPlaceOdds)
			if lo > hi {
				lo, hi = hi, lo
			}
			p.Min, p.Max = lo, hi
		}
	}
	r.mu.Unlock()

	out.IsSynthetic = true
	out.SyntheticKind = models.SyntheticReconstructed
	out.CapturedAt = info.At(secondsBeforeDeadline)
	out.Simulation = &models.SimulationInfo{
		SecondsBeforeDeadline: secondsBeforeDeadline,
		Volatility:            f,
		BaselineCapturedAt:    baseline.CapturedAt,
	}

	metrics.RecordReconstruction(f)
	return out, nil
}

// draw returns a uniform value in [-1, 1). Caller holds r.mu.
func (r *Reconstructor) draw() float64 {
	return 2*r.rng.Float64() - 1
}

// perturb shifts v by u*f*v, truncating the shift toward zero at the feed's
// 0.1 resolution so the result never leaves the [v-fv, v+fv] band, and
// floors the result at min.
func (r *Reconstructor) perturb(v, f, u, min float64) float64 {
	shift := decimal.NewFromFloat(u * f * v).Truncate(1)
	res := decimal.NewFromFloat(v).Add(shift)
	floor := decimal.NewFromFloat(min)
	if res.LessThan(floor) {
		res = floor
	}
	return res.InexactFloat64()
}
