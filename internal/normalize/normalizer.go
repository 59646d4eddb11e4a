// Package normalize converts raw per-source event records into the canonical
// comparable shape used by the reconcile engine.
//
// Normalization covers: timestamp conversion to the reference timezone,
// whitespace and line-ending normalization of text fields (so textual diffs
// are not polluted by encoding differences), quarter-hour rounding of
// durations, and categorical resolution through the base-data resolver for
// database-origin records. Ledger-origin records already carry resolved
// dropdown identifiers.
//
// Normalization failures are per-record: the caller logs them as conflicts
// and continues, they never terminate a run.
package normalize

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/boekwerk/hoursync/internal/basedata"
	"github.com/boekwerk/hoursync/internal/domain"
	"github.com/boekwerk/hoursync/internal/identity"
)

// ErrMissingField marks a record that lacks a required source field.
var ErrMissingField = fmt.Errorf("normalize: required field missing")

// ErrInvalidTime marks a record whose date could not be interpreted.
var ErrInvalidTime = fmt.Errorf("normalize: invalid timestamp")

// Error is a per-record normalization failure carrying the offending field,
// so the caller can pick the right conflict category.
type Error struct {
	Field string
	Err   error
}

func (e *Error) Error() string { return fmt.Sprintf("%v: %s", e.Err, e.Field) }

func (e *Error) Unwrap() error { return e.Err }

// IsCategoryField reports whether the failure concerns a categorical
// assignment, which maps to a missing-category conflict rather than a data
// discrepancy.
func (e *Error) IsCategoryField() bool {
	switch e.Field {
	case "project", "activity", "employee":
		return true
	}
	return false
}

// Normalizer converts raw records into canonical events against one
// reference timezone and one base-data snapshot.
type Normalizer struct {
	loc      *time.Location
	resolver *basedata.Resolver
}

// New creates a normalizer. The resolver may be nil when only ledger-origin
// records will be normalized.
func New(loc *time.Location, resolver *basedata.Resolver) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{loc: loc, resolver: resolver}
}

// Database converts a raw database event into canonical form, resolving its
// categorical values to ledger dropdown IDs.
//
// Errors wrap ErrMissingField (absent subject/category/timestamps),
// ErrInvalidTime (end before start), or basedata.ErrUnresolved (category has
// no dropdown match); callers branch on these to pick a conflict category.
func (n *Normalizer) Database(raw domain.RawDatabaseEvent) (domain.CanonicalEvent, error) {
	var ev domain.CanonicalEvent

	if raw.EventID == "" {
		return ev, &Error{Field: "event_id", Err: ErrMissingField}
	}
	if raw.Project == "" {
		return ev, &Error{Field: "project", Err: ErrMissingField}
	}
	if raw.Activity == "" {
		return ev, &Error{Field: "activity", Err: ErrMissingField}
	}
	if raw.Employee == "" {
		return ev, &Error{Field: "employee", Err: ErrMissingField}
	}
	if raw.Start.IsZero() || raw.End.IsZero() {
		return ev, &Error{Field: "start/end", Err: ErrMissingField}
	}

	start := raw.Start.In(n.loc)
	end := raw.End.In(n.loc)
	if end.Before(start) {
		return ev, &Error{Field: "start/end", Err: ErrInvalidTime}
	}

	employee, err := n.resolver.Resolve(domain.KindEmployee, raw.Employee)
	if err != nil {
		return ev, err
	}
	project, err := n.resolver.Resolve(domain.KindProject, raw.Project)
	if err != nil {
		return ev, err
	}
	activity, err := n.resolver.Resolve(domain.KindActivity, raw.Activity)
	if err != nil {
		return ev, err
	}

	return domain.CanonicalEvent{
		Identity:     strings.ToLower(strings.TrimSpace(raw.EventID)),
		Subject:      Text(raw.Subject),
		Description:  identity.Strip(Text(raw.Description)),
		Start:        start,
		End:          end,
		Hours:        QuarterHours(end.Sub(start)),
		Employee:     employee,
		Project:      project,
		Activity:     activity,
		Source:       domain.SourceDatabase,
		LastModified: raw.LastModified.In(n.loc),
	}, nil
}

// Ledger converts a raw ledger event into canonical form. The identity, if
// present and well-formed, is lifted out of the description; the marker line
// itself never reaches the comparable Description field.
func (n *Normalizer) Ledger(raw domain.RawLedgerEvent) (domain.CanonicalEvent, error) {
	var ev domain.CanonicalEvent

	if raw.LedgerID == "" {
		return ev, &Error{Field: "ledger_id", Err: ErrMissingField}
	}
	if raw.Date.IsZero() {
		return ev, &Error{Field: "date", Err: ErrMissingField}
	}

	desc := Text(raw.Description)
	id, _ := identity.Extract(desc)

	return domain.CanonicalEvent{
		Identity:     id,
		Subject:      Text(raw.Subject),
		Description:  identity.Strip(desc),
		Start:        raw.Date.In(n.loc),
		Hours:        roundQuarter(raw.Hours),
		Employee:     raw.EmployeeID,
		Project:      raw.ProjectID,
		Activity:     raw.ActivityID,
		Invoiced:     raw.Invoiced,
		Source:       domain.SourceLedger,
		LedgerID:     raw.LedgerID,
		LastModified: raw.LastModified.In(n.loc),
	}, nil
}

// Text normalizes a free-text field: CRLF to LF, trailing whitespace
// stripped per line, surrounding whitespace trimmed.
func Text(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// QuarterHours converts a duration to hours at quarter-hour granularity:
// round(minutes/60*4)/4.
func QuarterHours(d time.Duration) float64 {
	return roundQuarter(d.Minutes() / 60)
}

func roundQuarter(hours float64) float64 {
	return math.Round(hours*4) / 4
}
