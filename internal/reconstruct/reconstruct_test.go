package reconstruct

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/keiba-odds/internal/deadline"
	"github.com/yourusername/keiba-odds/internal/models"
)

const epsilon = 1e-9

var (
	postTime = time.Date(2025, 11, 2, 10, 0, 0, 0, time.UTC)
	info     = deadline.Compute(postTime, time.Date(2025, 11, 2, 9, 57, 30, 0, time.UTC), 60)
)

func baseline() *models.OddsSnapshot {
	return &models.OddsSnapshot{
		RaceKey:    models.MustParseRaceKey("2025110205041101"),
		CapturedAt: time.Date(2025, 11, 2, 9, 58, 30, 0, time.UTC),
		Entries: []models.OddsRecord{
			{
				RecordType: models.RecordWinPlace,
				Win: []models.SelectionOdds{
					{Number: 1, Odds: 1.0},
					{Number: 2, Odds: 1.1},
					{Number: 3, Odds: 4.7},
					{Number: 4, Odds: 23.5},
					{Number: 5, Odds: 187.2},
				},
				Place: []models.BandOdds{
					{Number: 1, Min: 1.0, Max: 1.1},
					{Number: 3, Min: 1.8, Max: 2.6},
					{Number: 5, Min: 25.0, Max: 40.3},
				},
			},
			{
				RecordType:   models.RecordQuinella,
				Combinations: []models.CombinationOdds{{Selections: []int{1, 3}, Odds: 5.4}},
			},
			{
				RecordType:   models.RecordWide,
				Combinations: []models.CombinationOdds{{Selections: []int{1, 3}, Min: 1.9, Max: 2.4}},
			},
		},
	}
}

func TestReconstructRejectsNegativeHorizon(t *testing.T) {
	r := New(Config{Seed: 1})
	for _, h := range []int{-1, -60, -3600} {
		_, err := r.Reconstruct(baseline(), h, info)
		assert.ErrorIs(t, err, models.ErrInvalidHorizon)
	}
}

func TestVolatilityIsMonotone(t *testing.T) {
	r := New(DefaultConfig())

	assert.InDelta(t, 0.10, r.Volatility(0), epsilon)
	assert.InDelta(t, 0.15, r.Volatility(1800), epsilon)
	assert.InDelta(t, 0.20, r.Volatility(3600), epsilon)
	assert.InDelta(t, 0.20, r.Volatility(86400), epsilon)

	prev := r.Volatility(0)
	for h := 1; h <= 10000; h += 37 {
		v := r.Volatility(h)
		assert.GreaterOrEqual(t, v, prev, "h=%d", h)
		prev = v
	}
}

func TestReconstructBoundsAndPositivity(t *testing.T) {
	base := baseline()
	for seed := int64(1); seed <= 200; seed++ {
		r := NewWithSource(DefaultConfig(), rand.NewSource(seed))
		for _, h := range []int{0, 30, 300, 1800, 7200} {
			out, err := r.Reconstruct(base, h, info)
			require.NoError(t, err)
			f := r.Volatility(h)

			win := out.Entries[0].Win
			for i, sel := range win {
				v := base.Entries[0].Win[i].Odds
				assert.Greater(t, sel.Odds, 0.0)
				assert.GreaterOrEqual(t, sel.Odds, 1.0)
				if v*(1-f) >= 1.0 {
					assert.LessOrEqual(t, sel.Odds, v*(1+f)+epsilon)
					assert.GreaterOrEqual(t, sel.Odds, v*(1-f)-epsilon)
				} else {
					assert.LessOrEqual(t, sel.Odds, v*(1+f)+epsilon)
				}
			}
			for i, band := range out.Entries[0].Place {
				b := base.Entries[0].Place[i]
				assert.LessOrEqual(t, band.Min, band.Max)
				assert.Greater(t, band.Min, 0.0)
				assert.LessOrEqual(t, band.Max, b.Max*(1+f)+epsilon)
			}
		}
	}
}

func TestReconstructPassesThroughOtherBetTypes(t *testing.T) {
	base := baseline()
	out, err := New(Config{Seed: 42}).Reconstruct(base, 300, info)
	require.NoError(t, err)

	assert.Equal(t, base.Entries[1], out.Entries[1])
	assert.Equal(t, base.Entries[2], out.Entries[2])
}

func TestReconstructTagsSynthetic(t *testing.T) {
	base := baseline()
	out, err := New(Config{Seed: 7}).Reconstruct(base, 300, info)
	require.NoError(t, err)

	assert.True(t, out.IsSynthetic)
	assert.Equal(t, models.SyntheticReconstructed, out.SyntheticKind)
	assert.Equal(t, time.Date(2025, 11, 2, 9, 54, 0, 0, time.UTC), out.CapturedAt)
	require.NotNil(t, out.Simulation)
	assert.Equal(t, 300, out.Simulation.SecondsBeforeDeadline)
	assert.Equal(t, base.CapturedAt, out.Simulation.BaselineCapturedAt)

	assert.False(t, base.IsSynthetic)
	assert.Equal(t, 4.7, base.Entries[0].Win[2].Odds)
}

func TestReconstructIsReproducibleWithSeed(t *testing.T) {
	a, err := New(Config{Seed: 99}).Reconstruct(baseline(), 600, info)
	require.NoError(t, err)
	b, err := New(Config{Seed: 99}).Reconstruct(baseline(), 600, info)
	require.NoError(t, err)

	assert.Equal(t, a.Entries, b.Entries)
}
