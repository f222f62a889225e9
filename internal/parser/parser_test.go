package parser

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/keiba-odds/internal/models"
)

const testKey = "2025110205041101"

func header(recordType string) string {
	return recordType + "1" + testKey + "095830"
}

func winPlaceBody(runners int) string {
	var win, place strings.Builder
	for i := 1; i <= winPlaceRunners; i++ {
		if i > runners {
			win.WriteString(strings.Repeat(" ", winEntryLen))
			place.WriteString(strings.Repeat(" ", placeEntryLen))
			continue
		}
		fmt.Fprintf(&win, "%02d%05d", i, 20+i*5)
		fmt.Fprintf(&place, "%02d%05d%05d", i, 11+i, 15+i*2)
	}
	return win.String() + place.String()
}

func TestParseWinPlace(t *testing.T) {
	rec, err := Parse("O1", []byte(header("O1")+winPlaceBody(3)+"\r\n"))
	require.NoError(t, err)

	assert.Equal(t, models.RecordWinPlace, rec.RecordType)
	assert.Equal(t, testKey, rec.RaceKey)
	assert.Equal(t, "095830", rec.OddsTime)
	require.Len(t, rec.Win, 3)
	assert.Equal(t, models.SelectionOdds{Number: 1, Odds: 2.5}, rec.Win[0])
	assert.Equal(t, models.SelectionOdds{Number: 3, Odds: 3.5}, rec.Win[2])
	require.Len(t, rec.Place, 3)
	assert.Equal(t, models.BandOdds{Number: 2, Min: 1.3, Max: 1.9}, rec.Place[1])
}

func TestParseWinPlaceSkipsUnsold(t *testing.T) {
	body := []byte(winPlaceBody(2))
	copy(body[winEntryLen+2:winEntryLen+7], "00000")
	copy(body[2:7], "-----")

	rec, err := Parse("O1", append([]byte(header("O1")), body...))
	require.NoError(t, err)
	assert.Empty(t, rec.Win)
	assert.Len(t, rec.Place, 2)
}

func TestParseWinPlaceTooShort(t *testing.T) {
	_, err := Parse("O1", []byte(header("O1")+"0102500"))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrParse)

	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "O1", pe.RecordType)
}

func TestParseMalformedOdds(t *testing.T) {
	body := []byte(winPlaceBody(2))
	copy(body[2:7], "12x45")

	_, err := Parse("O1", append([]byte(header("O1")), body...))
	assert.ErrorIs(t, err, models.ErrParse)
}

func TestParseBracketQuinella(t *testing.T) {
	raw := header("O2") + "1200123" + "1300456" + "       "
	rec, err := Parse("O2", []byte(raw))
	require.NoError(t, err)

	require.Len(t, rec.Combinations, 2)
	assert.Equal(t, []int{1, 2}, rec.Combinations[0].Selections)
	assert.Equal(t, 12.3, rec.Combinations[0].Odds)
	assert.Equal(t, 45.6, rec.Combinations[1].Odds)
}

func TestParseQuinellaAndExacta(t *testing.T) {
	for _, rt := range []string{"O3", "O5"} {
		raw := header(rt) + "0102001234" + "0103000000" + "0203012000"
		rec, err := Parse(rt, []byte(raw))
		require.NoError(t, err, rt)
		assert.Equal(t, models.RecordType(rt), rec.RecordType)
		require.Len(t, rec.Combinations, 2, rt)
		assert.Equal(t, 123.4, rec.Combinations[0].Odds)
		assert.Equal(t, []int{2, 3}, rec.Combinations[1].Selections)
	}
}

func TestParseWide(t *testing.T) {
	raw := header("O4") + "01020003500021"
	rec, err := Parse("O4", []byte(raw))
	require.NoError(t, err)

	require.Len(t, rec.Combinations, 1)
	c := rec.Combinations[0]
	assert.Equal(t, 2.1, c.Min)
	assert.Equal(t, 3.5, c.Max)
}

func TestParseTrio(t *testing.T) {
	raw := header("O6") + "0102030012345" + "0102040000000"
	rec, err := Parse("O6", []byte(raw))
	require.NoError(t, err)

	require.Len(t, rec.Combinations, 1)
	assert.Equal(t, []int{1, 2, 3}, rec.Combinations[0].Selections)
	assert.Equal(t, 1234.5, rec.Combinations[0].Odds)
}

func TestParseRejectsBadHeaders(t *testing.T) {
	tests := []struct {
		name       string
		recordType string
		raw        string
	}{
		{"unknown type", "O9", header("O9")},
		{"short", "O1", "O11"},
		{"mismatched id", "O2", header("O3") + "1200123"},
		{"bad race key", "O2", "O21" + "20251302050411XX" + "095830" + "1200123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.recordType, []byte(tt.raw))
			assert.ErrorIs(t, err, models.ErrParse)
		})
	}
}
