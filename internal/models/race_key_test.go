package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRaceKey(t *testing.T) {
	k, err := ParseRaceKey("2025110205041101")
	require.NoError(t, err)

	assert.Equal(t, 2025, k.Year)
	assert.Equal(t, 11, k.Month)
	assert.Equal(t, 2, k.Day)
	assert.Equal(t, 5, k.VenueCode)
	assert.Equal(t, 4, k.MeetingNumber)
	assert.Equal(t, 11, k.DayNumber)
	assert.Equal(t, 1, k.RaceNumber)
	assert.Equal(t, "20251102", k.Date())
	assert.Equal(t, "2025110205041101", k.String())
}

func TestParseRaceKeyRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"too short", "20251102050411"},
		{"letters", "2025110205041A01"},
		{"bad month", "2025130205041101"},
		{"race zero", "2025110205041100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRaceKey(tt.in)
			assert.ErrorIs(t, err, ErrInvalidRaceKey)
		})
	}
}

func TestRaceKeyJSON(t *testing.T) {
	summary := RaceSummary{RaceKey: MustParseRaceKey("2025110205041101"), RaceNumber: 1}
	b, err := json.Marshal(summary)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"race_key":"2025110205041101"`)

	var decoded RaceSummary
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, summary.RaceKey, decoded.RaceKey)
}

func TestPostTimeAt(t *testing.T) {
	k := MustParseRaceKey("2025110205041101")
	pt, err := k.PostTimeAt("10:00", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 11, 2, 10, 0, 0, 0, time.UTC), pt)

	pt, err = k.PostTimeAt("1545", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 15, pt.Hour())
	assert.Equal(t, 45, pt.Minute())
}

func TestRacePayloadUpsertKeepsOnePerInstant(t *testing.T) {
	k := MustParseRaceKey("2025110205041101")
	at := time.Date(2025, 11, 2, 9, 58, 30, 0, time.UTC)
	p := &RacePayload{RaceKey: k}

	p.Upsert(OddsSnapshot{RaceKey: k, CapturedAt: at, Entries: []OddsRecord{{RecordType: RecordWinPlace}}})
	p.Upsert(OddsSnapshot{RaceKey: k, CapturedAt: at.Add(-time.Minute)})
	p.Upsert(OddsSnapshot{RaceKey: k, CapturedAt: at, Entries: []OddsRecord{{RecordType: RecordTrio}}})
	assert.False(t, p.Upsert(OddsSnapshot{RaceKey: k, CapturedAt: at.Add(time.Minute), IsSynthetic: true}))

	require.Len(t, p.Snapshots, 2)
	assert.True(t, p.Snapshots[0].CapturedAt.Before(p.Snapshots[1].CapturedAt))

	latest, ok := p.Latest()
	require.True(t, ok)
	assert.Equal(t, at, latest.CapturedAt)
	assert.Equal(t, RecordTrio, latest.Entries[0].RecordType)

	exact, ok := p.At(at.Add(-time.Minute))
	require.True(t, ok)
	assert.Equal(t, at.Add(-time.Minute), exact.CapturedAt)
}
