package domain

// Outcome of a single record within a batch.
type Outcome string

const (
	OutcomeImported  Outcome = "imported"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeConflict  Outcome = "conflict"
	OutcomeFiltered  Outcome = "filtered"
	OutcomeFailed    Outcome = "failed"
)

// Failure describes why one record was not imported.
type Failure struct {
	ImportID string `json:"import_id,omitempty"`
	Line     int    `json:"line,omitempty"`
	Reason   string `json:"reason"`
}

// BatchSummary is the observable result of one orchestrator run.
type BatchSummary struct {
	Source   string    `json:"source"`
	Failures []Failure `json:"failures,omitempty"`
	Imported int       `json:"imported"`
	// Duplicates counts records skipped because the ledger already held them,
	// plus remote conflicts that were reconciled into the ledger.
	Duplicates int `json:"skipped_duplicate"`
	Conflicts  int `json:"conflicts_reconciled"`
	// Filtered counts records dated before the lower bound.
	Filtered int  `json:"filtered"`
	Failed   int  `json:"failed"`
	DryRun   bool `json:"dry_run,omitempty"`
}

// Add records one outcome.
func (s *BatchSummary) Add(outcome Outcome) {
	switch outcome {
	case OutcomeImported:
		s.Imported++
	case OutcomeDuplicate:
		s.Duplicates++
	case OutcomeConflict:
		s.Duplicates++
		s.Conflicts++
	case OutcomeFiltered:
		s.Filtered++
	}
}

// Fail records a failed record with its reason.
func (s *BatchSummary) Fail(importID string, line int, err error) {
	s.Failed++
	s.Failures = append(s.Failures, Failure{ImportID: importID, Line: line, Reason: err.Error()})
}

// Total returns the number of records seen.
func (s *BatchSummary) Total() int {
	return s.Imported + s.Duplicates + s.Filtered + s.Failed
}
