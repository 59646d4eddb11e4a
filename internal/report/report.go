// Package report persists the conflicts accumulated during a reconciliation
// run as a timestamped JSON file, the artifact an operator reviews after a
// run. Notification delivery is downstream of these files.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/boekwerk/hoursync/internal/domain"
	"github.com/boekwerk/hoursync/internal/pkg/logger"
)

// FileSink writes conflict reports to a directory on local disk.
type FileSink struct {
	dir  string
	year int
	now  func() time.Time
}

// NewFileSink creates a sink writing into dir. The directory is created on
// first report.
func NewFileSink(dir string, year int) *FileSink {
	return &FileSink{dir: dir, year: year, now: time.Now}
}

// document is the on-disk report layout: a per-category summary followed by
// the full record snapshots.
type document struct {
	Year        int                             `json:"year"`
	GeneratedAt time.Time                       `json:"generated_at"`
	Summary     map[domain.ConflictCategory]int `json:"summary"`
	Conflicts   []domain.ConflictRecord         `json:"conflicts"`
}

// ReportConflicts writes one report file for the run. No file is produced
// for a clean run.
func (s *FileSink) ReportConflicts(_ context.Context, records []domain.ConflictRecord) error {
	if len(records) == 0 {
		logger.Info("no conflicts to report", "year", s.year)
		return nil
	}

	doc := document{
		Year:        s.year,
		GeneratedAt: s.now(),
		Summary:     make(map[domain.ConflictCategory]int),
		Conflicts:   records,
	}
	for _, rec := range records {
		doc.Summary[rec.Category]++
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}

	name := fmt.Sprintf("conflicts_%d_%s.json", s.year, doc.GeneratedAt.Format("20060102_150405"))
	path := filepath.Join(s.dir, name)

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}

	for category, count := range doc.Summary {
		logger.Warn("conflicts recorded", "category", string(category), "count", count)
	}
	logger.Info("conflict report written", "path", path, "total", len(records))
	return nil
}
