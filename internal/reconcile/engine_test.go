package reconcile

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boekwerk/hoursync/internal/domain"
	"github.com/boekwerk/hoursync/internal/identity"
)

const (
	idE1 = "11111111-1111-4111-8111-111111111111"
	idE2 = "22222222-2222-4222-8222-222222222222"
	idE3 = "33333333-3333-4333-8333-333333333333"
)

var testDay = time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

// =============================================================================
// FAKE COLLABORATORS
// =============================================================================

type fakeDB struct {
	events    []domain.RawDatabaseEvent
	whitelist []domain.WhitelistEntry
	fetchErr  error
	wlErr     error
}

func (f *fakeDB) FetchEvents(_ context.Context, _ int) ([]domain.RawDatabaseEvent, error) {
	return f.events, f.fetchErr
}

func (f *fakeDB) FetchWhitelist(_ context.Context) ([]domain.WhitelistEntry, error) {
	return f.whitelist, f.wlErr
}

// fakeLedger is an in-memory external system: inserts and updates are
// applied to its event set so a verification re-fetch sees them.
type fakeLedger struct {
	events    []domain.RawLedgerEvent
	dropdowns map[domain.BaseDataKind]map[string]string

	inserts []domain.CanonicalEvent
	updates []string

	insertErr   error
	updateErr   error
	dropUpdates bool // accept updates but don't apply them
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		dropdowns: map[domain.BaseDataKind]map[string]string{
			domain.KindEmployee: {"Jan de Vries": "emp-1"},
			domain.KindProject:  {"Acme": "prj-7"},
			domain.KindActivity: {"Development": "act-2"},
		},
	}
}

func (f *fakeLedger) FetchDropdownValues(_ context.Context, kind domain.BaseDataKind) (map[string]string, error) {
	return f.dropdowns[kind], nil
}

func (f *fakeLedger) FetchEvents(_ context.Context, _ int) ([]domain.RawLedgerEvent, error) {
	out := make([]domain.RawLedgerEvent, len(f.events))
	copy(out, f.events)
	return out, nil
}

func (f *fakeLedger) InsertEvent(_ context.Context, ev domain.CanonicalEvent) (string, error) {
	if f.insertErr != nil {
		return "", f.insertErr
	}
	f.inserts = append(f.inserts, ev)
	id := fmt.Sprintf("L%d", len(f.events)+1)
	f.events = append(f.events, domain.RawLedgerEvent{
		LedgerID:    id,
		Subject:     ev.Subject,
		Description: ev.Description,
		Date:        ev.Start,
		Hours:       ev.Hours,
		EmployeeID:  ev.Employee,
		ProjectID:   ev.Project,
		ActivityID:  ev.Activity,
	})
	return id, nil
}

func (f *fakeLedger) UpdateEvent(_ context.Context, ledgerID string, ev domain.CanonicalEvent) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, ledgerID)
	if f.dropUpdates {
		return nil
	}
	for i := range f.events {
		if f.events[i].LedgerID != ledgerID {
			continue
		}
		if f.events[i].Invoiced {
			return fmt.Errorf("ledger refuses update of invoiced record %s", ledgerID)
		}
		f.events[i].Subject = ev.Subject
		f.events[i].Description = ev.Description
		f.events[i].Date = ev.Start
		f.events[i].Hours = ev.Hours
		f.events[i].EmployeeID = ev.Employee
		f.events[i].ProjectID = ev.Project
		f.events[i].ActivityID = ev.Activity
		return nil
	}
	return fmt.Errorf("no ledger record %s", ledgerID)
}

func (f *fakeLedger) writeCount() int { return len(f.inserts) + len(f.updates) }

type fakeSink struct {
	reported []domain.ConflictRecord
}

func (f *fakeSink) ReportConflicts(_ context.Context, records []domain.ConflictRecord) error {
	f.reported = append(f.reported, records...)
	return nil
}

// =============================================================================
// FIXTURES
// =============================================================================

func dbEvent(id, project string, hours float64) domain.RawDatabaseEvent {
	return domain.RawDatabaseEvent{
		EventID:     id,
		Subject:     "Sprint work",
		Description: "work notes",
		Start:       testDay,
		End:         testDay.Add(time.Duration(hours * float64(time.Hour))),
		Employee:    "Jan de Vries",
		Project:     project,
		Activity:    "Development",
	}
}

func ledgerEvent(ledgerID, eventID string, hours float64, invoiced bool) domain.RawLedgerEvent {
	desc := "work notes"
	if eventID != "" {
		var err error
		desc, err = identity.Embed(desc, eventID)
		if err != nil {
			panic(err)
		}
	}
	return domain.RawLedgerEvent{
		LedgerID:    ledgerID,
		Subject:     "Sprint work",
		Description: desc,
		Date:        testDay,
		Hours:       hours,
		EmployeeID:  "emp-1",
		ProjectID:   "prj-7",
		ActivityID:  "act-2",
		Invoiced:    invoiced,
	}
}

func conflictsOf(records []domain.ConflictRecord, cat domain.ConflictCategory) []domain.ConflictRecord {
	var out []domain.ConflictRecord
	for _, r := range records {
		if r.Category == cat {
			out = append(out, r)
		}
	}
	return out
}

func runEngine(t *testing.T, db *fakeDB, ledger *fakeLedger, dryRun bool) (*domain.SyncStats, *fakeSink) {
	t.Helper()
	sink := &fakeSink{}
	eng := New(db, ledger, sink, time.UTC, dryRun)
	stats, err := eng.Run(context.Background(), 2024)
	require.NoError(t, err)
	return stats, sink
}

// =============================================================================
// DATABASE PASS
// =============================================================================

func TestRun_InsertsUnmatchedEvent(t *testing.T) {
	db := &fakeDB{events: []domain.RawDatabaseEvent{dbEvent(idE1, "Acme", 4)}}
	ledger := newFakeLedger()

	stats, sink := runEngine(t, db, ledger, false)

	require.Len(t, ledger.inserts, 1)
	ins := ledger.inserts[0]
	assert.Equal(t, 4.0, ins.Hours)
	assert.Equal(t, "prj-7", ins.Project)
	assert.True(t, strings.HasSuffix(ins.Description, "[event_id: "+idE1+"]"),
		"identity marker must be the last description line, got %q", ins.Description)

	assert.Equal(t, 1, stats.Inserted)
	assert.Empty(t, sink.reported)
}

func TestRun_InvoicedCounterpartBlocksAllWrites(t *testing.T) {
	db := &fakeDB{events: []domain.RawDatabaseEvent{dbEvent(idE2, "Acme", 3)}}
	ledger := newFakeLedger()
	ledger.events = []domain.RawLedgerEvent{ledgerEvent("L1", idE2, 2, true)}

	stats, sink := runEngine(t, db, ledger, false)

	assert.Zero(t, ledger.writeCount(), "no write may ever target an invoiced record")
	require.Len(t, conflictsOf(sink.reported, domain.ConflictInvoiced), 1)
	assert.Zero(t, stats.Inserted)
	assert.Zero(t, stats.Updated)
}

func TestRun_UnresolvableProjectBlocksInsert(t *testing.T) {
	db := &fakeDB{events: []domain.RawDatabaseEvent{dbEvent(idE3, "Widgets", 2)}}
	ledger := newFakeLedger()

	stats, sink := runEngine(t, db, ledger, false)

	assert.Zero(t, ledger.writeCount())
	require.Len(t, conflictsOf(sink.reported, domain.ConflictBaseData), 1)
	assert.Equal(t, 1, stats.Skipped)
}

func TestRun_MissingCategorySkips(t *testing.T) {
	ev := dbEvent(idE1, "Acme", 2)
	ev.Activity = ""
	db := &fakeDB{events: []domain.RawDatabaseEvent{ev}}
	ledger := newFakeLedger()

	_, sink := runEngine(t, db, ledger, false)

	assert.Zero(t, ledger.writeCount())
	assert.Len(t, conflictsOf(sink.reported, domain.ConflictMissingCategory), 1)
}

func TestRun_MatchedIdenticalIsNoop(t *testing.T) {
	db := &fakeDB{events: []domain.RawDatabaseEvent{dbEvent(idE1, "Acme", 4)}}
	ledger := newFakeLedger()
	ledger.events = []domain.RawLedgerEvent{ledgerEvent("L1", idE1, 4, false)}

	stats, sink := runEngine(t, db, ledger, false)

	assert.Zero(t, ledger.writeCount())
	assert.Equal(t, 1, stats.Unchanged)
	assert.Empty(t, sink.reported)
}

func TestRun_MatchedDifferentIsUpdated(t *testing.T) {
	db := &fakeDB{events: []domain.RawDatabaseEvent{dbEvent(idE1, "Acme", 4)}}
	ledger := newFakeLedger()
	ledger.events = []domain.RawLedgerEvent{ledgerEvent("L1", idE1, 2.5, false)}

	stats, sink := runEngine(t, db, ledger, false)

	require.Equal(t, []string{"L1"}, ledger.updates)
	assert.Equal(t, 1, stats.Updated)
	assert.Empty(t, sink.reported)

	// Database values won and the identity survived verbatim.
	assert.Equal(t, 4.0, ledger.events[0].Hours)
	gotID, ok := identity.Extract(ledger.events[0].Description)
	require.True(t, ok)
	assert.Equal(t, idE1, gotID)
}

func TestRun_WriteFailureLoggedRunContinues(t *testing.T) {
	db := &fakeDB{events: []domain.RawDatabaseEvent{
		dbEvent(idE1, "Acme", 4),
		dbEvent(idE2, "Acme", 2),
	}}
	ledger := newFakeLedger()
	ledger.insertErr = fmt.Errorf("ledger says no")

	stats, sink := runEngine(t, db, ledger, false)

	assert.Len(t, conflictsOf(sink.reported, domain.ConflictWriteError), 2)
	assert.Equal(t, 2, stats.Skipped)
	assert.Zero(t, stats.Inserted)
}

func TestRun_FatalWhenDatabaseFetchFails(t *testing.T) {
	db := &fakeDB{fetchErr: fmt.Errorf("database unreachable")}
	eng := New(db, newFakeLedger(), &fakeSink{}, time.UTC, false)
	_, err := eng.Run(context.Background(), 2024)
	require.Error(t, err)
}

func TestRun_DuplicateDatabaseIdentitySkipsSecond(t *testing.T) {
	db := &fakeDB{events: []domain.RawDatabaseEvent{
		dbEvent(idE1, "Acme", 4),
		dbEvent(idE1, "Acme", 2),
	}}
	ledger := newFakeLedger()

	stats, sink := runEngine(t, db, ledger, false)

	assert.Equal(t, 1, stats.Inserted)
	assert.Len(t, conflictsOf(sink.reported, domain.ConflictDataDiscrepancy), 1)
}

// =============================================================================
// LEDGER PASS
// =============================================================================

func TestRun_ValidIdentityWithoutDBRecordIsOrphan(t *testing.T) {
	db := &fakeDB{}
	ledger := newFakeLedger()
	ledger.events = []domain.RawLedgerEvent{ledgerEvent("L1", idE3, 2, false)}

	_, sink := runEngine(t, db, ledger, false)

	orphans := conflictsOf(sink.reported, domain.ConflictOrphanedEvent)
	require.Len(t, orphans, 1)
	assert.Equal(t, idE3, orphans[0].Event.Identity)
	assert.Zero(t, ledger.writeCount(), "orphans are reported, never remediated")
}

func TestRun_UnidentifiedUnwhitelistedIsOutOfSync(t *testing.T) {
	db := &fakeDB{}
	ledger := newFakeLedger()
	ledger.events = []domain.RawLedgerEvent{ledgerEvent("L1", "", 2, false)}

	_, sink := runEngine(t, db, ledger, false)

	assert.Len(t, conflictsOf(sink.reported, domain.ConflictOutOfSync), 1)
	assert.Zero(t, ledger.writeCount())
}

func TestRun_WhitelistedRecordSilentlySkipped(t *testing.T) {
	db := &fakeDB{whitelist: []domain.WhitelistEntry{{
		Subject: "Sprint work",
		Date:    testDay,
		Hours:   2,
	}}}
	ledger := newFakeLedger()
	ledger.events = []domain.RawLedgerEvent{ledgerEvent("L1", "", 2, false)}

	_, sink := runEngine(t, db, ledger, false)

	assert.Empty(t, sink.reported)
}

func TestRun_MalformedMarkerTreatedAsUnidentified(t *testing.T) {
	db := &fakeDB{}
	ledger := newFakeLedger()
	ev := ledgerEvent("L1", "", 2, false)
	ev.Description = "work notes\n[event_id: not-a-guid]"
	ledger.events = []domain.RawLedgerEvent{ev}

	_, sink := runEngine(t, db, ledger, false)

	assert.Len(t, conflictsOf(sink.reported, domain.ConflictOutOfSync), 1)
	assert.Empty(t, conflictsOf(sink.reported, domain.ConflictOrphanedEvent))
}

func TestRun_InsertedThisRunNotFlaggedOrphan(t *testing.T) {
	db := &fakeDB{events: []domain.RawDatabaseEvent{dbEvent(idE1, "Acme", 4)}}
	ledger := newFakeLedger()

	_, sink := runEngine(t, db, ledger, false)

	assert.Empty(t, conflictsOf(sink.reported, domain.ConflictOrphanedEvent))
}

func TestRun_SkippedDBRecordStillOwnsItsIdentity(t *testing.T) {
	// The DB record fails base-data resolution, but its ledger counterpart
	// must not be reported as an orphan: the identity is still asserted.
	db := &fakeDB{events: []domain.RawDatabaseEvent{dbEvent(idE1, "Widgets", 4)}}
	ledger := newFakeLedger()
	ledger.events = []domain.RawLedgerEvent{ledgerEvent("L1", idE1, 4, false)}

	_, sink := runEngine(t, db, ledger, false)

	assert.Len(t, conflictsOf(sink.reported, domain.ConflictBaseData), 1)
	assert.Empty(t, conflictsOf(sink.reported, domain.ConflictOrphanedEvent))
}

func TestRun_DuplicateLedgerIdentityReported(t *testing.T) {
	db := &fakeDB{events: []domain.RawDatabaseEvent{dbEvent(idE1, "Acme", 4)}}
	ledger := newFakeLedger()
	ledger.events = []domain.RawLedgerEvent{
		ledgerEvent("L1", idE1, 4, false),
		ledgerEvent("L2", idE1, 4, false),
	}

	_, sink := runEngine(t, db, ledger, false)

	assert.NotEmpty(t, conflictsOf(sink.reported, domain.ConflictDataDiscrepancy))
}

// =============================================================================
// IDEMPOTENCE, VERIFICATION, DRY RUN
// =============================================================================

func TestRun_SecondRunIssuesNoMutations(t *testing.T) {
	db := &fakeDB{events: []domain.RawDatabaseEvent{
		dbEvent(idE1, "Acme", 4),
		dbEvent(idE2, "Acme", 2.5),
	}}
	ledger := newFakeLedger()
	ledger.events = []domain.RawLedgerEvent{ledgerEvent("L1", idE2, 1, false)}

	stats1, _ := runEngine(t, db, ledger, false)
	require.Equal(t, 1, stats1.Inserted)
	require.Equal(t, 1, stats1.Updated)

	ledger.inserts = nil
	ledger.updates = nil
	stats2, sink2 := runEngine(t, db, ledger, false)

	assert.Zero(t, ledger.writeCount(), "second run with no external changes must be a no-op")
	assert.Equal(t, 2, stats2.Unchanged)
	assert.Empty(t, sink2.reported)
}

func TestRun_VerifierCatchesSilentlyDroppedWrite(t *testing.T) {
	db := &fakeDB{events: []domain.RawDatabaseEvent{dbEvent(idE1, "Acme", 4)}}
	ledger := newFakeLedger()
	ledger.events = []domain.RawLedgerEvent{ledgerEvent("L1", idE1, 2, false)}
	ledger.dropUpdates = true

	_, sink := runEngine(t, db, ledger, false)

	require.Equal(t, []string{"L1"}, ledger.updates)
	assert.Len(t, conflictsOf(sink.reported, domain.ConflictDataDiscrepancy), 1)
}

func TestRun_DryRunIssuesNoWrites(t *testing.T) {
	db := &fakeDB{events: []domain.RawDatabaseEvent{
		dbEvent(idE1, "Acme", 4),
		dbEvent(idE2, "Acme", 2),
	}}
	ledger := newFakeLedger()
	ledger.events = []domain.RawLedgerEvent{ledgerEvent("L1", idE2, 1, false)}

	stats, _ := runEngine(t, db, ledger, true)

	assert.Zero(t, ledger.writeCount())
	assert.Equal(t, 1, stats.Inserted)
	assert.Equal(t, 1, stats.Updated)
	assert.True(t, stats.DryRun)
}

func TestRun_WhitelistFailureIsNotFatal(t *testing.T) {
	db := &fakeDB{wlErr: fmt.Errorf("whitelist table missing")}
	ledger := newFakeLedger()
	ledger.events = []domain.RawLedgerEvent{ledgerEvent("L1", "", 2, false)}

	_, sink := runEngine(t, db, ledger, false)

	// Without the whitelist the record can only be over-reported, never written.
	assert.Len(t, conflictsOf(sink.reported, domain.ConflictOutOfSync), 1)
}

func TestRun_StatsCountConflictsByCategory(t *testing.T) {
	db := &fakeDB{events: []domain.RawDatabaseEvent{dbEvent(idE3, "Widgets", 2)}}
	ledger := newFakeLedger()
	ledger.events = []domain.RawLedgerEvent{ledgerEvent("L1", "", 1, false)}

	stats, _ := runEngine(t, db, ledger, false)

	assert.Equal(t, 1, stats.Conflicts[domain.ConflictBaseData])
	assert.Equal(t, 1, stats.Conflicts[domain.ConflictOutOfSync])
}
