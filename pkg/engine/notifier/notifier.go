// Package notifier delivers end-of-run change summaries. A run that found
// nothing new sends nothing.
package notifier

import (
	"context"
	"time"

	"github.com/halcyon-sec/driftwatch/pkg/store"
)

// TechReport is the per-technology slice of one run summary. NewIssues
// counts findings this run opened; Unjustified counts every finding still
// awaiting justification on the touched items, new or carried over.
type TechReport struct {
	Technology  store.Technology `json:"technology"`
	Created     int              `json:"created"`
	Changed     int              `json:"changed"`
	Deleted     int              `json:"deleted"`
	NewIssues   int              `json:"new_issues"`
	Unjustified int              `json:"unjustified"`
	Score       int              `json:"score"`
}

// Summary describes one completed account run.
type Summary struct {
	RunID     string       `json:"run_id"`
	Account   string       `json:"account"`
	StartedAt time.Time    `json:"started_at"`
	Reports   []TechReport `json:"reports"`
}

// HasFindings reports whether anything in the run warrants a message.
func (s Summary) HasFindings() bool {
	for _, r := range s.Reports {
		if r.Created > 0 || r.Changed > 0 || r.Deleted > 0 || r.NewIssues > 0 {
			return true
		}
	}
	return false
}

// TotalScore sums the unjustified issue scores across technologies.
func (s Summary) TotalScore() int {
	total := 0
	for _, r := range s.Reports {
		total += r.Score
	}
	return total
}

// Sink receives run summaries. Implementations must tolerate being called
// concurrently for different accounts.
type Sink interface {
	Notify(ctx context.Context, sum Summary) error
}

// Discard drops every summary. Useful in tests and one-shot CLI runs.
type Discard struct{}

func (Discard) Notify(context.Context, Summary) error { return nil }
