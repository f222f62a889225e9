package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/yourusername/keiba-odds/internal/models"
	_ "modernc.org/sqlite"
)

// raceListKey is the index race_key used for a date's race list.
const raceListKey = ""

type indexKey struct {
	date    string
	raceKey string
}

// index is the durable (SQLite) and in-memory enumeration of cached entries.
// The SQLite table survives restarts; the map answers existence checks
// without touching disk.
type index struct {
	db *sql.DB

	mu      sync.RWMutex
	entries map[indexKey]models.CacheIndexEntry
}

func openIndex(dbPath string) (*index, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	idx := &index{db: db, entries: make(map[indexKey]models.CacheIndexEntry)}
	if err := idx.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create index tables: %w", err)
	}
	if err := idx.load(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load index: %w", err)
	}
	return idx, nil
}

func (i *index) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cache_index (
			date          TEXT NOT NULL,
			race_key      TEXT NOT NULL,
			path          TEXT NOT NULL,
			last_modified INTEGER NOT NULL,
			PRIMARY KEY (date, race_key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_index_date ON cache_index(date)`,
	}
	for _, stmt := range stmts {
		if _, err := i.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (i *index) load() error {
	rows, err := i.db.Query(`SELECT date, race_key, path, last_modified FROM cache_index`)
	if err != nil {
		return err
	}
	defer rows.Close()

	i.mu.Lock()
	defer i.mu.Unlock()
	for rows.Next() {
		var e models.CacheIndexEntry
		var modified int64
		if err := rows.Scan(&e.Date, &e.RaceKey, &e.Path, &modified); err != nil {
			return err
		}
		e.LastModified = time.Unix(0, modified)
		i.entries[indexKey{e.Date, e.RaceKey}] = e
	}
	return rows.Err()
}

func (i *index) upsert(ctx context.Context, e models.CacheIndexEntry) error {
	_, err := i.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO cache_index (date, race_key, path, last_modified)
		VALUES (?,?,?,?)`,
		e.Date, e.RaceKey, e.Path, e.LastModified.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert index entry: %w", err)
	}
	i.mu.Lock()
	i.entries[indexKey{e.Date, e.RaceKey}] = e
	i.mu.Unlock()
	return nil
}

func (i *index) remove(ctx context.Context, date, raceKey string) error {
	if _, err := i.db.ExecContext(ctx,
		`DELETE FROM cache_index WHERE date = ? AND race_key = ?`, date, raceKey); err != nil {
		return fmt.Errorf("failed to delete index entry: %w", err)
	}
	i.mu.Lock()
	delete(i.entries, indexKey{date, raceKey})
	i.mu.Unlock()
	return nil
}

func (i *index) get(date, raceKey string) (models.CacheIndexEntry, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	e, ok := i.entries[indexKey{date, raceKey}]
	return e, ok
}

// snapshot returns every entry matching keep, sorted by date then race key.
func (i *index) snapshot(keep func(models.CacheIndexEntry) bool) []models.CacheIndexEntry {
	i.mu.RLock()
	out := make([]models.CacheIndexEntry, 0, len(i.entries))
	for _, e := range i.entries {
		if keep == nil || keep(e) {
			out = append(out, e)
		}
	}
	i.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool {
		if out[a].Date != out[b].Date {
			return out[a].Date < out[b].Date
		}
		return out[a].RaceKey < out[b].RaceKey
	})
	return out
}

func (i *index) len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.entries)
}

func (i *index) ping(ctx context.Context) error {
	return i.db.PingContext(ctx)
}

func (i *index) close() error {
	return i.db.Close()
}
