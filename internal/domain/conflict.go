package domain

import "time"

// ConflictCategory classifies why a record could not be, or must not be,
// synchronized.
type ConflictCategory string

const (
	// ConflictMissingCategory marks a database record lacking a resolvable
	// project or activity assignment. Skipped; eligible for a manual
	// do-not-sync marking upstream.
	ConflictMissingCategory ConflictCategory = "missing_category"

	// ConflictBaseData marks a record whose employee/project/activity value
	// has no match in the ledger dropdowns. Insertion is blocked outright.
	ConflictBaseData ConflictCategory = "base_data_conflict"

	// ConflictInvoiced marks an attempted mutation of a billed ledger
	// record. Never escalated to a write.
	ConflictInvoiced ConflictCategory = "invoiced_conflict"

	// ConflictDataDiscrepancy marks a post-verification mismatch: a write
	// was issued but the ledger still differs from the database.
	ConflictDataDiscrepancy ConflictCategory = "data_discrepancy"

	// ConflictOrphanedEvent marks a ledger record with a valid identity
	// that no database record carries. Never auto-deleted.
	ConflictOrphanedEvent ConflictCategory = "orphaned_event"

	// ConflictOutOfSync marks a ledger record with no identifiable
	// correlation key and no whitelist exemption.
	ConflictOutOfSync ConflictCategory = "out_of_sync"

	// ConflictWriteError marks a failed insert/update call against the
	// ledger. The record is skipped and the run continues.
	ConflictWriteError ConflictCategory = "external_write_error"
)

// ConflictRecord is one categorized issue accumulated during a run. Records
// are created by the engine, never mutated, and persisted for reporting.
type ConflictRecord struct {
	Category ConflictCategory `json:"category"`
	// Event is the full field snapshot of the offending record.
	Event      CanonicalEvent `json:"event"`
	Message    string         `json:"message"`
	OccurredAt time.Time      `json:"occurred_at"`
}
