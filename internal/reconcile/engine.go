// Package reconcile implements the diff/classify/act state machine that
// keeps the ledger's hour registrations consistent with the authoritative
// database.
//
// A run is sequential: one pass over the database set (authoritative), one
// pass over the ledger set (orphan detection), then a verification pass.
// The database always wins on content, with one exception: a ledger record
// marked invoiced is financially finalized and is never written to, in
// either direction. The engine never deletes ledger records.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/boekwerk/hoursync/internal/basedata"
	"github.com/boekwerk/hoursync/internal/domain"
	"github.com/boekwerk/hoursync/internal/identity"
	"github.com/boekwerk/hoursync/internal/normalize"
	"github.com/boekwerk/hoursync/internal/pkg/logger"
)

// DatabaseSource supplies the authoritative event set and the curated
// whitelist of ledger-only records exempt from out-of-sync reporting.
type DatabaseSource interface {
	FetchEvents(ctx context.Context, year int) ([]domain.RawDatabaseEvent, error)
	FetchWhitelist(ctx context.Context) ([]domain.WhitelistEntry, error)
}

// LedgerClient is the external-system collaborator. Fetches must return a
// fully materialized snapshot; insert and update are synchronous per call.
// The concurrency/retry policy behind these calls belongs to the
// implementation, not to this engine.
type LedgerClient interface {
	basedata.DropdownFetcher
	FetchEvents(ctx context.Context, year int) ([]domain.RawLedgerEvent, error)
	InsertEvent(ctx context.Context, ev domain.CanonicalEvent) (string, error)
	UpdateEvent(ctx context.Context, ledgerID string, ev domain.CanonicalEvent) error
}

// ConflictSink receives the accumulated conflict records at the end of a
// run. Email or other notification is downstream of this.
type ConflictSink interface {
	ReportConflicts(ctx context.Context, records []domain.ConflictRecord) error
}

// Engine drives one reconciliation run.
type Engine struct {
	db     DatabaseSource
	ledger LedgerClient
	sink   ConflictSink
	loc    *time.Location
	dryRun bool
}

// New creates an engine. loc is the reference timezone all comparisons run
// in; nil means UTC.
func New(db DatabaseSource, ledger LedgerClient, sink ConflictSink, loc *time.Location, dryRun bool) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{db: db, ledger: ledger, sink: sink, loc: loc, dryRun: dryRun}
}

// run holds the state threaded through one reconciliation run. The base-data
// snapshot and whitelist are built once and read-only for the run's
// duration; refreshing them mid-run would let the two passes disagree.
type run struct {
	norm      *normalize.Normalizer
	whitelist []domain.WhitelistEntry
	log       *Log
	stats     *domain.SyncStats

	// dbIdentities covers every identity the database asserts this year,
	// including records skipped with conflicts: a skipped record still
	// owns its identity, so its ledger counterpart is not an orphan.
	dbIdentities map[string]bool

	// ledgerByID indexes the normalized ledger snapshot by identity.
	ledgerByID map[string]domain.CanonicalEvent

	// expected collects the canonical database state of every record that
	// was inserted, updated, or already in sync, for the verification pass.
	expected []domain.CanonicalEvent
}

// Run executes a full reconciliation for one year and returns its stats.
// Only a failure to fetch the full database set, the full ledger set, or
// the dropdown snapshot is fatal; per-record failures are logged as
// conflicts and the run continues.
func (e *Engine) Run(ctx context.Context, year int) (*domain.SyncStats, error) {
	logger.Info("reconciliation starting", "year", year, "dry_run", e.dryRun)

	rawDB, err := e.db.FetchEvents(ctx, year)
	if err != nil {
		return nil, fmt.Errorf("fetching database events: %w", err)
	}

	rawLedger, err := e.ledger.FetchEvents(ctx, year)
	if err != nil {
		return nil, fmt.Errorf("fetching ledger events: %w", err)
	}

	resolver, err := basedata.Build(ctx, e.ledger)
	if err != nil {
		return nil, fmt.Errorf("building base-data snapshot: %w", err)
	}

	r := &run{
		norm:         normalize.New(e.loc, resolver),
		log:          NewLog(),
		stats:        domain.NewSyncStats(e.dryRun),
		dbIdentities: make(map[string]bool, len(rawDB)),
		ledgerByID:   make(map[string]domain.CanonicalEvent, len(rawLedger)),
	}
	r.stats.DatabaseEvents = len(rawDB)
	r.stats.LedgerEvents = len(rawLedger)

	// Whitelist failure is deliberately non-fatal: running without it can
	// only over-report OutOfSync conflicts, never issue a wrong write.
	r.whitelist, err = e.db.FetchWhitelist(ctx)
	if err != nil {
		logger.Warn("whitelist unavailable, proceeding without exemptions", "error", err)
		r.whitelist = nil
	}

	ledgerEvents := e.indexLedger(r, rawLedger)
	e.databasePass(ctx, r, rawDB)
	e.ledgerPass(r, ledgerEvents)

	if e.dryRun {
		logger.Info("dry run, skipping verification")
	} else {
		e.verify(ctx, r, year)
	}

	for _, rec := range r.log.Records() {
		r.stats.Conflicts[rec.Category]++
	}
	if err := e.sink.ReportConflicts(ctx, r.log.Records()); err != nil {
		logger.Error("conflict report failed", "error", err)
	}

	logger.Info("reconciliation finished",
		"inserted", r.stats.Inserted,
		"updated", r.stats.Updated,
		"unchanged", r.stats.Unchanged,
		"skipped", r.stats.Skipped,
		"conflicts", len(r.log.Records()))
	return r.stats, nil
}

// indexLedger normalizes the ledger snapshot and indexes identified records.
// Duplicate identities violate the uniqueness invariant; the first record
// keeps the identity, later ones are logged and treated as unidentified.
func (e *Engine) indexLedger(r *run, raw []domain.RawLedgerEvent) []domain.CanonicalEvent {
	events := make([]domain.CanonicalEvent, 0, len(raw))
	for _, rl := range raw {
		ev, err := r.norm.Ledger(rl)
		if err != nil {
			r.log.Add(domain.ConflictDataDiscrepancy, domain.CanonicalEvent{
				LedgerID: rl.LedgerID, Source: domain.SourceLedger,
			}, "ledger record failed normalization: %v", err)
			continue
		}
		if ev.Identified() {
			if prev, dup := r.ledgerByID[ev.Identity]; dup {
				r.log.Add(domain.ConflictDataDiscrepancy, ev,
					"identity %s already carried by ledger record %s", ev.Identity, prev.LedgerID)
				ev.Identity = ""
			} else {
				r.ledgerByID[ev.Identity] = ev
			}
		}
		events = append(events, ev)
	}
	return events
}

// databasePass walks the authoritative set and classifies each record.
// States are evaluated in order; the first match is terminal for the record
// this run.
func (e *Engine) databasePass(ctx context.Context, r *run, rawDB []domain.RawDatabaseEvent) {
	seen := make(map[string]bool, len(rawDB))

	for _, raw := range rawDB {
		ev, err := r.norm.Database(raw)
		if err != nil {
			e.classifyNormalizationFailure(r, raw, err)
			continue
		}

		if seen[ev.Identity] {
			r.log.Add(domain.ConflictDataDiscrepancy, ev,
				"identity %s occurs more than once in the database set", ev.Identity)
			r.stats.Skipped++
			continue
		}
		seen[ev.Identity] = true
		r.dbIdentities[ev.Identity] = true

		counterpart, matched := r.ledgerByID[ev.Identity]
		switch {
		case matched && counterpart.Invoiced:
			r.log.Add(domain.ConflictInvoiced, counterpart,
				"database changes for %s blocked: ledger record %s is invoiced", ev.Identity, counterpart.LedgerID)

		case matched && equal(ev, counterpart):
			r.stats.Unchanged++
			r.expected = append(r.expected, ev)

		case matched:
			e.update(ctx, r, ev, counterpart)

		default:
			e.insert(ctx, r, ev)
		}
	}
}

// classifyNormalizationFailure maps a per-record normalization error onto
// the conflict taxonomy. Unresolvable categories block insertion outright;
// everything else is a data discrepancy.
func (e *Engine) classifyNormalizationFailure(r *run, raw domain.RawDatabaseEvent, err error) {
	snapshot := domain.CanonicalEvent{
		Identity:    raw.EventID,
		Subject:     raw.Subject,
		Description: raw.Description,
		Start:       raw.Start,
		End:         raw.End,
		Source:      domain.SourceDatabase,
	}
	if raw.EventID != "" {
		r.dbIdentities[strings.ToLower(strings.TrimSpace(raw.EventID))] = true
	}
	r.stats.Skipped++

	var nerr *normalize.Error
	switch {
	case errors.Is(err, basedata.ErrUnresolved):
		r.log.Add(domain.ConflictBaseData, snapshot, "%v", err)
	case errors.As(err, &nerr) && nerr.IsCategoryField():
		r.log.Add(domain.ConflictMissingCategory, snapshot, "%v", err)
	default:
		r.log.Add(domain.ConflictDataDiscrepancy, snapshot, "%v", err)
	}
}

// insert creates the ledger counterpart for an unmatched database record,
// embedding the identity marker into the description.
func (e *Engine) insert(ctx context.Context, r *run, ev domain.CanonicalEvent) {
	payload := ev
	desc, err := identity.Embed(ev.Description, ev.Identity)
	if err != nil {
		r.log.Add(domain.ConflictDataDiscrepancy, ev, "cannot embed identity: %v", err)
		r.stats.Skipped++
		return
	}
	payload.Description = desc

	if e.dryRun {
		logger.Info("dry run: would insert", "identity", ev.Identity, "subject", ev.Subject)
		r.stats.Inserted++
		return
	}

	ledgerID, err := e.ledger.InsertEvent(ctx, payload)
	if err != nil {
		r.log.Add(domain.ConflictWriteError, ev, "insert failed: %v", err)
		r.stats.Skipped++
		return
	}
	logger.Info("inserted ledger event", "identity", ev.Identity, "ledger_id", ledgerID)
	r.stats.Inserted++
	r.expected = append(r.expected, ev)
}

// update pushes database values onto an out-of-date, non-invoiced ledger
// counterpart. The identity is preserved verbatim by re-embedding it.
func (e *Engine) update(ctx context.Context, r *run, ev, counterpart domain.CanonicalEvent) {
	payload := ev
	desc, err := identity.Embed(ev.Description, ev.Identity)
	if err != nil {
		r.log.Add(domain.ConflictDataDiscrepancy, ev, "cannot embed identity: %v", err)
		r.stats.Skipped++
		return
	}
	payload.Description = desc

	if e.dryRun {
		logger.Info("dry run: would update", "identity", ev.Identity, "ledger_id", counterpart.LedgerID)
		r.stats.Updated++
		return
	}

	if err := e.ledger.UpdateEvent(ctx, counterpart.LedgerID, payload); err != nil {
		r.log.Add(domain.ConflictWriteError, ev, "update of ledger record %s failed: %v", counterpart.LedgerID, err)
		r.stats.Skipped++
		return
	}
	logger.Info("updated ledger event", "identity", ev.Identity, "ledger_id", counterpart.LedgerID)
	r.stats.Updated++
	r.expected = append(r.expected, ev)
}

// ledgerPass walks the ledger snapshot looking for records the database
// does not account for. It runs strictly after the database pass so that
// identities inserted this run count as matched. Nothing here ever issues
// a write, and certainly never a delete.
func (e *Engine) ledgerPass(r *run, ledgerEvents []domain.CanonicalEvent) {
	for _, ev := range ledgerEvents {
		if ev.Identified() {
			if !r.dbIdentities[ev.Identity] {
				r.log.Add(domain.ConflictOrphanedEvent, ev,
					"ledger record %s carries identity %s unknown to the database", ev.LedgerID, ev.Identity)
			}
			continue
		}

		if e.whitelisted(r, ev) {
			logger.Debug("whitelisted ledger record", "ledger_id", ev.LedgerID, "subject", ev.Subject)
			continue
		}
		r.log.Add(domain.ConflictOutOfSync, ev,
			"ledger record %s has no identity marker and no whitelist exemption", ev.LedgerID)
	}
}

func (e *Engine) whitelisted(r *run, ev domain.CanonicalEvent) bool {
	for _, w := range r.whitelist {
		if w.Matches(ev) {
			return true
		}
	}
	return false
}

// equal is the field-wise comparison behind the matched-identical state:
// subject, day, hours, marker-stripped description, and the three resolved
// categories. The ledger stores registrations at day granularity, so start
// is compared by calendar day in the reference timezone and end participates
// through the rounded hours value.
func equal(db, ledger domain.CanonicalEvent) bool {
	return db.Subject == ledger.Subject &&
		sameDay(db.Start, ledger.Start) &&
		db.Hours == ledger.Hours &&
		db.Description == ledger.Description &&
		db.Employee == ledger.Employee &&
		db.Project == ledger.Project &&
		db.Activity == ledger.Activity
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
