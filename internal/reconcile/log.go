package reconcile

import (
	"fmt"
	"time"

	"github.com/boekwerk/hoursync/internal/domain"
	"github.com/boekwerk/hoursync/internal/pkg/logger"
)

// Log accumulates categorized conflicts during a run. Records are
// append-only; the engine flushes them to the ConflictSink once the run
// completes.
type Log struct {
	records []domain.ConflictRecord
	now     func() time.Time
}

// NewLog returns an empty conflict log.
func NewLog() *Log {
	return &Log{now: time.Now}
}

// Add appends one conflict record carrying the full field snapshot of the
// offending event, and mirrors it to the structured log.
func (l *Log) Add(category domain.ConflictCategory, ev domain.CanonicalEvent, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.records = append(l.records, domain.ConflictRecord{
		Category:   category,
		Event:      ev,
		Message:    msg,
		OccurredAt: l.now(),
	})
	logger.Warn("conflict recorded",
		"category", string(category),
		"identity", ev.Identity,
		"ledger_id", ev.LedgerID,
		"detail", msg)
}

// Records returns the accumulated conflicts in insertion order.
func (l *Log) Records() []domain.ConflictRecord {
	return l.records
}

// Len returns the number of accumulated conflicts.
func (l *Log) Len() int { return len(l.records) }
