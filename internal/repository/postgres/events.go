// Package postgres implements the authoritative database side of the
// reconciliation: the event query (categories joined in) and the curated
// whitelist of ledger-only records exempt from out-of-sync reporting.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/boekwerk/hoursync/internal/domain"
)

// EventRepo reads the authoritative event set from PostgreSQL.
type EventRepo struct{ db *sql.DB }

// NewEventRepo creates a Postgres-backed event repository.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

// FetchEvents returns every event in the given year with its employee,
// project, and activity assignments already joined. This is a prerequisite
// for a run: a failure here is fatal to the caller.
func (r *EventRepo) FetchEvents(ctx context.Context, year int) ([]domain.RawDatabaseEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT e.event_id, e.subject, COALESCE(e.description, ''),
		       e.start_date, e.end_date,
		       COALESCE(emp.full_name, ''), COALESCE(p.name, ''), COALESCE(a.name, ''),
		       e.last_modified
		FROM hour_events e
		LEFT JOIN employees emp ON emp.id = e.employee_id
		LEFT JOIN projects p ON p.id = e.project_id
		LEFT JOIN activities a ON a.id = e.activity_id
		WHERE EXTRACT(YEAR FROM e.start_date) = $1
		  AND NOT e.do_not_sync
		ORDER BY e.start_date
	`, year)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []domain.RawDatabaseEvent
	for rows.Next() {
		var ev domain.RawDatabaseEvent
		if err := rows.Scan(&ev.EventID, &ev.Subject, &ev.Description,
			&ev.Start, &ev.End,
			&ev.Employee, &ev.Project, &ev.Activity,
			&ev.LastModified); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return events, nil
}

// FetchWhitelist returns the manually approved ledger-only records. The
// engine treats a failure here as non-fatal.
func (r *EventRepo) FetchWhitelist(ctx context.Context) ([]domain.WhitelistEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT subject, date, hours, COALESCE(note, '')
		FROM sync_whitelist
		ORDER BY date
	`)
	if err != nil {
		return nil, fmt.Errorf("query whitelist: %w", err)
	}
	defer rows.Close()

	var entries []domain.WhitelistEntry
	for rows.Next() {
		var w domain.WhitelistEntry
		if err := rows.Scan(&w.Subject, &w.Date, &w.Hours, &w.Note); err != nil {
			return nil, fmt.Errorf("scan whitelist entry: %w", err)
		}
		entries = append(entries, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read whitelist: %w", err)
	}
	return entries, nil
}
