package pipeline

import "github.com/google/uuid"

// Stages an item moves through, in order.
const (
	StageFetch   = "fetch"
	StageExtract = "extract"
	StageRender  = "render"
	StageStore   = "store"
	StagePersist = "persist"
)

// Per-item statuses.
const (
	StatusDone    = "DONE"
	StatusSkipped = "SKIPPED"
	StatusFailed  = "FAILED"
)

// Outcome is the per-message ingest outcome.
type Outcome struct {
	SourceID    string
	Status      string
	Stage       string // stage that failed; empty unless Status is FAILED
	Reason      string
	ReceiptID   uuid.UUID
	NeedsReview bool
}

// Summary aggregates one ingest run. A failed item never aborts the run, so
// the counters always cover every message the cursor yielded.
type Summary struct {
	Done        int
	Skipped     int
	NeedsReview int
	Failed      map[string]int // failures per stage
	Outcomes    []Outcome
}

func (s *Summary) record(o Outcome) {
	s.Outcomes = append(s.Outcomes, o)
	switch o.Status {
	case StatusDone:
		s.Done++
		if o.NeedsReview {
			s.NeedsReview++
		}
	case StatusSkipped:
		s.Skipped++
	case StatusFailed:
		if s.Failed == nil {
			s.Failed = make(map[string]int)
		}
		s.Failed[o.Stage]++
	}
}

// FailedTotal sums failures across all stages.
func (s *Summary) FailedTotal() int {
	total := 0
	for _, n := range s.Failed {
		total += n
	}
	return total
}
