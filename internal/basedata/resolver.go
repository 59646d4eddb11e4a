// Package basedata resolves raw database-side categorical values (employee,
// project, activity) to the ledger's dropdown identifiers.
//
// The resolver is built from a snapshot of the ledger dropdowns fetched once
// per run and is read-only thereafter. Refreshing it mid-run would let the
// two reconciliation passes classify against different base data.
package basedata

import (
	"context"
	"fmt"
	"strings"

	"github.com/boekwerk/hoursync/internal/domain"
)

// ErrUnresolved is returned when a raw value has no dropdown match. Callers
// convert this into a skip-and-log action, never an insert: inserting with an
// unresolved category would silently create a wrong or empty assignment in
// the ledger.
var ErrUnresolved = fmt.Errorf("basedata: no matching dropdown value")

// DropdownFetcher supplies the ledger dropdown contents for one kind,
// keyed by raw display value.
type DropdownFetcher interface {
	FetchDropdownValues(ctx context.Context, kind domain.BaseDataKind) (map[string]string, error)
}

// Resolver maps case-folded raw values to ledger dropdown IDs, per kind.
type Resolver struct {
	mappings map[domain.BaseDataKind]map[string]string
}

// Build fetches the dropdown snapshot for every kind and returns a resolver
// over it. A fetch failure is fatal to the run: without the full snapshot no
// classification is trustworthy.
func Build(ctx context.Context, src DropdownFetcher) (*Resolver, error) {
	r := &Resolver{mappings: make(map[domain.BaseDataKind]map[string]string, 3)}
	for _, kind := range domain.Kinds() {
		values, err := src.FetchDropdownValues(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("fetching %s dropdown: %w", kind, err)
		}
		m := make(map[string]string, len(values))
		for raw, id := range values {
			m[fold(raw)] = id
		}
		r.mappings[kind] = m
	}
	return r, nil
}

// NewResolver builds a resolver directly from already-fetched mappings.
// Used by tests and by callers that snapshot dropdowns themselves.
func NewResolver(mappings map[domain.BaseDataKind]map[string]string) *Resolver {
	r := &Resolver{mappings: make(map[domain.BaseDataKind]map[string]string, len(mappings))}
	for kind, values := range mappings {
		m := make(map[string]string, len(values))
		for raw, id := range values {
			m[fold(raw)] = id
		}
		r.mappings[kind] = m
	}
	return r
}

// Resolve returns the ledger dropdown ID for a raw value. Lookups are
// case-insensitive exact matches; a miss returns ErrUnresolved wrapped with
// the kind and offending value.
func (r *Resolver) Resolve(kind domain.BaseDataKind, rawValue string) (string, error) {
	m, ok := r.mappings[kind]
	if !ok {
		return "", fmt.Errorf("%w: unknown kind %q", ErrUnresolved, kind)
	}
	id, ok := m[fold(rawValue)]
	if !ok {
		return "", fmt.Errorf("%w: %s %q", ErrUnresolved, kind, rawValue)
	}
	return id, nil
}

// Size returns the number of dropdown entries loaded for a kind.
func (r *Resolver) Size(kind domain.BaseDataKind) int {
	return len(r.mappings[kind])
}

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
