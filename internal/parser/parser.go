// Package parser decodes fixed-width odds records from the live feed.
//
// Every record starts with a 25-byte header:
//
//	[0:2]   record type (O1..O6)
//	[2:3]   data division
//	[3:19]  race key
//	[19:25] odds time (HHMMSS)
//
// Odds are transmitted as integer tenths. Blank, zero or dash-filled odds
// mean the selection is not sold and the entry is skipped.
package parser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/yourusername/keiba-odds/internal/models"
)

const headerLen = 25

// Entry widths per record type.
const (
	winEntryLen     = 7  // number(2) odds(5)
	placeEntryLen   = 12 // number(2) min(5) max(5)
	winPlaceRunners = 18
	bracketEntryLen = 7  // frame(1) frame(1) odds(5)
	pairEntryLen    = 10 // number(2) number(2) odds(6)
	wideEntryLen    = 14 // number(2) number(2) min(5) max(5)
	trioEntryLen    = 13 // number(2) number(2) number(2) odds(7)
)

// ParseError describes a malformed record.
type ParseError struct {
	RecordType string
	Offset     int
	Reason     string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s record at offset %d: %s", e.RecordType, e.Offset, e.Reason)
}

// Is lets errors.Is match models.ErrParse.
func (e *ParseError) Is(target error) bool {
	return target == models.ErrParse
}

var errNotSold = errors.New("not sold")

// Parse decodes raw into an OddsRecord of the given type.
func Parse(recordTypeID string, raw []byte) (*models.OddsRecord, error) {
	rt := models.RecordType(recordTypeID)
	if !rt.Valid() {
		return nil, &ParseError{RecordType: recordTypeID, Reason: "unsupported record type"}
	}
	buf := strings.TrimRight(string(raw), "\r\n")
	if len(buf) < headerLen {
		return nil, &ParseError{RecordType: recordTypeID, Offset: len(buf), Reason: "record shorter than header"}
	}
	if got := buf[0:2]; got != recordTypeID {
		return nil, &ParseError{RecordType: recordTypeID, Reason: fmt.Sprintf("record id %q does not match", got)}
	}
	key, err := models.ParseRaceKey(buf[3:19])
	if err != nil {
		return nil, &ParseError{RecordType: recordTypeID, Offset: 3, Reason: err.Error()}
	}

	rec := &models.OddsRecord{
		RecordType: rt,
		RaceKey:    key.String(),
		OddsTime:   strings.TrimSpace(buf[19:25]),
	}
	body := buf[headerLen:]

	switch rt {
	case models.RecordWinPlace:
		err = parseWinPlace(rec, body)
	case models.RecordBracketQuinella:
		err = parseCombinations(rec, body, bracketEntryLen, []int{1, 1}, 5, false)
	case models.RecordQuinella, models.RecordExacta:
		err = parseCombinations(rec, body, pairEntryLen, []int{2, 2}, 6, false)
	case models.RecordWide:
		err = parseCombinations(rec, body, wideEntryLen, []int{2, 2}, 5, true)
	case models.RecordTrio:
		err = parseCombinations(rec, body, trioEntryLen, []int{2, 2, 2}, 7, false)
	}
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.RecordType = recordTypeID
			pe.Offset += headerLen
		}
		return nil, err
	}
	return rec, nil
}

func parseWinPlace(rec *models.OddsRecord, body string) error {
	need := winPlaceRunners * (winEntryLen + placeEntryLen)
	if len(body) < need {
		return &ParseError{Offset: len(body), Reason: fmt.Sprintf("win/place body needs %d bytes, got %d", need, len(body))}
	}

	for i := 0; i < winPlaceRunners; i++ {
		off := i * winEntryLen
		entry := body[off : off+winEntryLen]
		num, err := number(entry[0:2])
		if errors.Is(err, errNotSold) {
			continue
		}
		if err != nil {
			return &ParseError{Offset: off, Reason: err.Error()}
		}
		odds, err := tenths(entry[2:7])
		if errors.Is(err, errNotSold) {
			continue
		}
		if err != nil {
			return &ParseError{Offset: off + 2, Reason: err.Error()}
		}
		rec.Win = append(rec.Win, models.SelectionOdds{Number: num, Odds: odds})
	}

	base := winPlaceRunners * winEntryLen
	for i := 0; i < winPlaceRunners; i++ {
		off := base + i*placeEntryLen
		entry := body[off : off+placeEntryLen]
		num, err := number(entry[0:2])
		if errors.Is(err, errNotSold) {
			continue
		}
		if err != nil {
			return &ParseError{Offset: off, Reason: err.Error()}
		}
		lo, errLo := tenths(entry[2:7])
		hi, errHi := tenths(entry[7:12])
		if errors.Is(errLo, errNotSold) || errors.Is(errHi, errNotSold) {
			continue
		}
		if errLo != nil || errHi != nil {
			return &ParseError{Offset: off + 2, Reason: "malformed place band"}
		}
		if lo > hi {
			lo, hi = hi, lo
		}
		rec.Place = append(rec.Place, models.BandOdds{Number: num, Min: lo, Max: hi})
	}
	return nil
}

// parseCombinations reads fixed-size entries of len(widths) selections
// followed by one odds field, or a min/max band when band is set.
func parseCombinations(rec *models.OddsRecord, body string, size int, widths []int, oddsWidth int, band bool) error {
	body = strings.TrimRight(body, " ")
	if rem := len(body) % size; rem != 0 {
		// Trailing blanks may have eaten into the last entry.
		body += strings.Repeat(" ", size-rem)
	}

entries:
	for off := 0; off+size <= len(body); off += size {
		entry := body[off : off+size]
		pos := 0
		sels := make([]int, 0, len(widths))
		for _, w := range widths {
			n, err := number(entry[pos : pos+w])
			if errors.Is(err, errNotSold) {
				continue entries
			}
			if err != nil {
				return &ParseError{Offset: off + pos, Reason: err.Error()}
			}
			sels = append(sels, n)
			pos += w
		}

		c := models.CombinationOdds{Selections: sels}
		if band {
			lo, errLo := tenths(entry[pos : pos+oddsWidth])
			hi, errHi := tenths(entry[pos+oddsWidth : pos+2*oddsWidth])
			if errors.Is(errLo, errNotSold) || errors.Is(errHi, errNotSold) {
				continue
			}
			if errLo != nil || errHi != nil {
				return &ParseError{Offset: off + pos, Reason: "malformed odds band"}
			}
			if lo > hi {
				lo, hi = hi, lo
			}
			c.Min, c.Max = lo, hi
		} else {
			odds, err := tenths(entry[pos : pos+oddsWidth])
			if errors.Is(err, errNotSold) {
				continue
			}
			if err != nil {
				return &ParseError{Offset: off + pos, Reason: err.Error()}
			}
			c.Odds = odds
		}
		rec.Combinations = append(rec.Combinations, c)
	}
	return nil
}

func number(field string) (int, error) {
	f := strings.TrimSpace(field)
	if f == "" || strings.Trim(f, "0") == "" {
		return 0, errNotSold
	}
	n, err := strconv.Atoi(f)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid selection number %q", field)
	}
	return n, nil
}

// tenths converts a feed odds field to decimal odds.
func tenths(field string) (float64, error) {
	f := strings.TrimSpace(field)
	if f == "" || strings.Trim(f, "0") == "" || strings.Trim(f, "-*") == "" {
		return 0, errNotSold
	}
	n, err := strconv.ParseInt(f, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid odds %q", field)
	}
	return decimal.New(n, -1).InexactFloat64(), nil
}
