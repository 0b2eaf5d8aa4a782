// File: internal/results/report.go
package results

import (
	"sort"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/restfuzz/api/schemas"
	"github.com/xkilldash9x/restfuzz/internal/results/providers"
)

// KindSummary counts the failures of one kind across a run.
type KindSummary struct {
	Kind  schemas.FailureKind `json:"kind"`
	Count int                 `json:"count"`
	Hard  bool                `json:"hard"`
	Hint  string              `json:"hint,omitempty"`
}

// Report is the aggregated view of a run.
type Report struct {
	Sequences int                            `json:"sequences"`
	Requests  int                            `json:"requests"`
	ByStatus  map[schemas.SequenceStatus]int `json:"by_status"`
	Failures  []KindSummary                  `json:"failures,omitempty"`
	// Notable holds every sequence that did not complete, worst first.
	Notable []schemas.SequenceResult `json:"notable,omitempty"`
}

// ToJSON serializes the report to a JSON byte slice.
func (r *Report) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Summarize aggregates sequence results. hints may be nil.
func Summarize(seqs []schemas.SequenceResult, hints providers.HintProvider) *Report {
	report := &Report{
		Sequences: len(seqs),
		ByStatus:  make(map[schemas.SequenceStatus]int),
	}
	counts := make(map[schemas.FailureKind]int)
	count := func(fs []schemas.Failure) {
		for _, f := range fs {
			counts[f.Kind]++
		}
	}

	for _, seq := range seqs {
		report.ByStatus[seq.Status]++
		report.Requests += len(seq.Steps)
		count(seq.Failures)
		for _, step := range seq.Steps {
			count(step.Failures)
		}
		if seq.Status != schemas.SequenceCompleted {
			report.Notable = append(report.Notable, seq)
		}
	}

	for kind, n := range counts {
		ks := KindSummary{Kind: kind, Count: n, Hard: kind.Hard()}
		if hints != nil {
			ks.Hint, _ = hints.Hint(kind)
		}
		report.Failures = append(report.Failures, ks)
	}
	sort.Slice(report.Failures, func(i, j int) bool {
		a, b := report.Failures[i], report.Failures[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Kind < b.Kind
	})
	prioritize(report.Notable)
	return report
}

var statusRank = map[schemas.SequenceStatus]int{
	schemas.SequenceAborted:   0,
	schemas.SequenceCancelled: 1,
	schemas.SequenceCompleted: 2,
}

// prioritize orders aborted before cancelled, then by failure count.
func prioritize(seqs []schemas.SequenceResult) {
	sort.SliceStable(seqs, func(i, j int) bool {
		ri, rj := statusRank[seqs[i].Status], statusRank[seqs[j].Status]
		if ri != rj {
			return ri < rj
		}
		return len(seqs[i].Failures) > len(seqs[j].Failures)
	})
}
