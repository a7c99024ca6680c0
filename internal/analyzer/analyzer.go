// Package analyzer runs the batch defect rules over recorded transcripts and
// aggregates the real-time issues logged during the calls.
package analyzer

import (
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"patientbot/internal/domain"
)

type IssueCount struct {
	Label string
	Count int
}

type Result struct {
	Trials     int
	Findings   []domain.Finding
	Recurrence map[string]int
}

func (r Result) BySeverity(sev domain.Severity) []domain.Finding {
	var out []domain.Finding
	for _, f := range r.Findings {
		if f.Severity == sev {
			out = append(out, f)
		}
	}
	return out
}

// RankedRecurrence orders the table by descending count, then label.
func (r Result) RankedRecurrence() []IssueCount {
	out := make([]IssueCount, 0, len(r.Recurrence))
	for label, n := range r.Recurrence {
		out = append(out, IssueCount{Label: label, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}

func (r Result) LoggedIssueCount() int {
	total := 0
	for _, n := range r.Recurrence {
		total += n
	}
	return total
}

// TotalIssues counts batch findings plus every logged real-time issue.
func (r Result) TotalIssues() int {
	return len(r.Findings) + r.LoggedIssueCount()
}

// Analyze evaluates Rules against each record. Records are independent and
// evaluated concurrently; findings keep input order.
func Analyze(records []domain.TranscriptRecord) Result {
	return AnalyzeWith(Rules, records)
}

func AnalyzeWith(rules []Rule, records []domain.TranscriptRecord) Result {
	perRecord := make([][]domain.Finding, len(records))

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range records {
		i := i
		g.Go(func() error {
			perRecord[i] = Evaluate(rules, records[i])
			return nil
		})
	}
	_ = g.Wait()

	result := Result{Trials: len(records), Recurrence: make(map[string]int)}
	for i, rec := range records {
		result.Findings = append(result.Findings, perRecord[i]...)
		for _, issue := range rec.Issues {
			result.Recurrence[issue]++
		}
	}
	return result
}

// Evaluate runs rules in order against one record. A firing rule marked
// Stop ends evaluation for that record.
func Evaluate(rules []Rule, rec domain.TranscriptRecord) []domain.Finding {
	t := newTranscript(rec)
	var findings []domain.Finding
	for _, rule := range rules {
		got := rule.Check(t)
		for _, f := range got {
			f.CallID = rec.CallID
			f.Severity = rule.Severity
			if f.Issue == "" {
				f.Issue = rule.Label
			}
			findings = append(findings, f)
		}
		if len(got) > 0 && rule.Stop {
			break
		}
	}
	return findings
}
