package logger

import (
	"time"

	"github.com/sirupsen/logrus"
)

// CacheAuditLogger records cache mutations and source decisions.
type CacheAuditLogger struct {
	*logrus.Entry
}

// NewCacheAuditLogger creates a new cache audit logger.
func NewCacheAuditLogger(baseLogger *logrus.Logger) *CacheAuditLogger {
	return &CacheAuditLogger{
		Entry: baseLogger.WithField("component", "cache_audit"),
	}
}

// LogCacheWrite logs a payload written to the snapshot store.
func (cl *CacheAuditLogger) LogCacheWrite(date, raceKey, kind string, snapshots int) {
	cl.WithFields(logrus.Fields{
		"event_type": "cache_write",
		"date":       date,
		"race_key":   raceKey,
		"kind":       kind,
		"snapshots":  snapshots,
	}).Info("Cache entry written")
}

// LogCachePrune logs the result of a retention sweep.
func (cl *CacheAuditLogger) LogCachePrune(olderThanDays, removed int, cutoff time.Time) {
	cl.WithFields(logrus.Fields{
		"event_type":       "cache_prune",
		"older_than_days":  olderThanDays,
		"removed":          removed,
		"cutoff":           cutoff.Format(time.RFC3339),
	}).Info("Cache prune completed")
}

// LogCacheClear logs a full cache reset.
func (cl *CacheAuditLogger) LogCacheClear(removed int) {
	cl.WithFields(logrus.Fields{
		"event_type": "cache_clear",
		"removed":    removed,
	}).Warn("Cache cleared")
}

// LogSourceFallback logs an auto-mode step from one source to the next.
func (cl *CacheAuditLogger) LogSourceFallback(raceKey, from, to string, reason error) {
	cl.WithFields(logrus.Fields{
		"event_type": "source_fallback",
		"race_key":   raceKey,
		"from":       from,
		"to":         to,
		"reason":     reason.Error(),
	}).Warn("Data source fallback")
}
