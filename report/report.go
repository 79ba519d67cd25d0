// Package report accumulates per-run counters. Every command logs its
// report at the end of the run, including partially failed runs, so a
// human can always see exactly what state the data is in.
package report

import (
	"fmt"
	"log/slog"
)

// Run holds statistics about one reconciliation run.
type Run struct {
	Scanned   int
	Matched   int
	Applied   int
	Unmatched int
	Flagged   int
	Repaired  int
	Deleted   int
	Failed    int
	Failures  map[string]string
}

// NewRun creates and initializes a new Run report.
func NewRun() *Run {
	return &Run{
		Failures: make(map[string]string),
	}
}

// AddFailure records a failed record and its reason. Failures are
// collected per record, never aborting the batch.
func (r *Run) AddFailure(record, reason string) {
	r.Failed++
	r.Failures[record] = reason
}

// Log prints the final statistics to the provided logger.
func (r *Run) Log(logger *slog.Logger) {
	logger.Info("--- Run Report ---")
	logger.Info(fmt.Sprintf("Records scanned: %d", r.Scanned))
	logger.Info(fmt.Sprintf("Matched: %d", r.Matched))
	logger.Info(fmt.Sprintf("Applied: %d", r.Applied))
	logger.Info(fmt.Sprintf("Unmatched: %d", r.Unmatched))
	logger.Info(fmt.Sprintf("Flagged for review: %d", r.Flagged))
	logger.Info(fmt.Sprintf("Repaired: %d", r.Repaired))
	logger.Info(fmt.Sprintf("Deleted: %d", r.Deleted))
	logger.Info(fmt.Sprintf("Failed: %d", r.Failed))
	if r.Failed > 0 {
		logger.Info("Failed records:")
		for record, reason := range r.Failures {
			logger.Info(fmt.Sprintf("- %s: %s", record, reason))
		}
	}
	logger.Info("------------------")
}
