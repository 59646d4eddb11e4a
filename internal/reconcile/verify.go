package reconcile

import (
	"context"

	"github.com/boekwerk/hoursync/internal/domain"
	"github.com/boekwerk/hoursync/internal/pkg/logger"
)

// verify closes the loop after mutation: it re-fetches the ledger and checks
// that every database record the run inserted, updated, or considered in
// sync now has an equal, identified counterpart. A residual difference means
// a write did not take effect — the call failed silently, the ledger
// rejected the content, or a concurrent edit raced the run — and is reported
// as a data discrepancy, distinct from any pre-sync conflict.
func (e *Engine) verify(ctx context.Context, r *run, year int) {
	if len(r.expected) == 0 {
		return
	}

	raw, err := e.ledger.FetchEvents(ctx, year)
	if err != nil {
		logger.Error("verification fetch failed", "error", err)
		for _, ev := range r.expected {
			r.log.Add(domain.ConflictDataDiscrepancy, ev,
				"post-sync state unverifiable: %v", err)
		}
		return
	}

	current := make(map[string]domain.CanonicalEvent, len(raw))
	for _, rl := range raw {
		ev, err := r.norm.Ledger(rl)
		if err != nil {
			continue
		}
		if ev.Identified() {
			current[ev.Identity] = ev
		}
	}

	verified := 0
	for _, want := range r.expected {
		got, ok := current[want.Identity]
		if !ok {
			r.log.Add(domain.ConflictDataDiscrepancy, want,
				"identity %s absent from ledger after sync", want.Identity)
			continue
		}
		if !equal(want, got) {
			r.log.Add(domain.ConflictDataDiscrepancy, got,
				"ledger record %s still differs from database after sync", got.LedgerID)
			continue
		}
		verified++
	}
	logger.Info("verification complete", "expected", len(r.expected), "verified", verified)
}
