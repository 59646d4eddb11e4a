package domain

import "time"

// EventSource indicates which system a canonical event originated from.
type EventSource string

const (
	SourceDatabase EventSource = "database"
	SourceLedger   EventSource = "ledger"
)

// BaseDataKind enumerates the categorical dropdown kinds maintained in the
// ledger system.
type BaseDataKind string

const (
	KindEmployee BaseDataKind = "employee"
	KindProject  BaseDataKind = "project"
	KindActivity BaseDataKind = "activity"
)

// Kinds returns all base-data kinds in the order the ledger exposes them.
func Kinds() []BaseDataKind {
	return []BaseDataKind{KindEmployee, KindProject, KindActivity}
}

// RawDatabaseEvent is an event row as produced by the authoritative database
// query, before normalization. Category assignments are already joined in as
// their raw textual values.
type RawDatabaseEvent struct {
	EventID      string    `json:"event_id" db:"event_id"`
	Subject      string    `json:"subject" db:"subject"`
	Description  string    `json:"description" db:"description"`
	Start        time.Time `json:"start_date" db:"start_date"`
	End          time.Time `json:"end_date" db:"end_date"`
	Employee     string    `json:"employee" db:"employee"`
	Project      string    `json:"project" db:"project"`
	Activity     string    `json:"activity" db:"activity"`
	LastModified time.Time `json:"last_modified" db:"last_modified"`
}

// RawLedgerEvent is a row as returned by the ledger's hours overview, before
// normalization. Category values carry the ledger's own dropdown identifiers.
// The embedded event_id marker, if any, still sits inside Description.
type RawLedgerEvent struct {
	LedgerID     string    `json:"id"`
	Subject      string    `json:"subject"`
	Description  string    `json:"description"`
	Date         time.Time `json:"date"`
	Hours        float64   `json:"hours"`
	EmployeeID   string    `json:"employee_id"`
	ProjectID    string    `json:"project_id"`
	ActivityID   string    `json:"activity_id"`
	Invoiced     bool      `json:"invoiced"`
	LastModified time.Time `json:"last_modified"`
}

// CanonicalEvent is the unit of comparison between the two systems.
// All text fields are whitespace-normalized, timestamps are expressed in the
// reference timezone, and category fields hold resolved ledger dropdown IDs.
type CanonicalEvent struct {
	// Identity is the stable cross-system correlation key (a lowercase
	// hyphenated UUID). Empty on an unidentified ledger-only record.
	Identity string `json:"identity,omitempty"`

	Subject string `json:"subject"`
	// Description excludes the trailing identity marker line.
	Description string `json:"description"`

	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	// Hours at quarter-hour granularity, derived from Start/End when the
	// source does not carry an explicit value.
	Hours float64 `json:"hours"`

	Employee string `json:"employee"`
	Project  string `json:"project"`
	Activity string `json:"activity"`

	// Invoiced is ledger-only: once true the record is financially
	// finalized and immutable in both stores.
	Invoiced bool `json:"invoiced"`

	Source EventSource `json:"source"`

	// LedgerID addresses the external row for updates. Ledger-origin only.
	LedgerID string `json:"ledger_id,omitempty"`

	// LastModified is diagnostic only; content authority always lies with
	// the database regardless of timestamps.
	LastModified time.Time `json:"last_modified"`
}

// Identified reports whether the event carries a correlation key.
func (e CanonicalEvent) Identified() bool { return e.Identity != "" }

// WhitelistEntry exempts a ledger-only record without an identity marker from
// out-of-sync reporting. Entries are externally curated and read-only input
// to a run; matching is content-based since whitelisted records have no
// identity by definition.
type WhitelistEntry struct {
	Subject string    `json:"subject" db:"subject"`
	Date    time.Time `json:"date" db:"date"`
	Hours   float64   `json:"hours" db:"hours"`
	Note    string    `json:"note,omitempty" db:"note"`
}

// Matches reports whether a ledger event is covered by this whitelist entry:
// same subject, same hours, and a start date within 24h of the entry's date.
func (w WhitelistEntry) Matches(e CanonicalEvent) bool {
	if w.Subject != e.Subject {
		return false
	}
	if w.Hours != e.Hours {
		return false
	}
	d := w.Date.Sub(e.Start)
	if d < 0 {
		d = -d
	}
	return d <= 24*time.Hour
}

// SyncStats summarizes one reconciliation run.
type SyncStats struct {
	DatabaseEvents int `json:"database_events"`
	LedgerEvents   int `json:"ledger_events"`
	Inserted       int `json:"inserted"`
	Updated        int `json:"updated"`
	Unchanged      int `json:"unchanged"`
	Skipped        int `json:"skipped"`

	Conflicts map[ConflictCategory]int `json:"conflicts"`

	DryRun bool `json:"dry_run"`
}

// NewSyncStats returns stats with the conflict counter map initialized.
func NewSyncStats(dryRun bool) *SyncStats {
	return &SyncStats{Conflicts: make(map[ConflictCategory]int), DryRun: dryRun}
}
