// Package report renders analyzer results as a markdown defect report.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"patientbot/internal/analyzer"
	"patientbot/internal/domain"
)

const fileTimeLayout = "20060102_150405"

type section struct {
	severity    domain.Severity
	title       string
	blurb       string
	placeholder string
}

var sections = []section{
	{domain.SeverityCritical, "Critical Issues", "", "*No critical issues found.*"},
	{domain.SeverityHigh, "High Severity Issues", "*These issues significantly impact the caller experience and should be prioritized.*", "*No high severity issues found.*"},
	{domain.SeverityMedium, "Medium Severity Issues", "*These issues detract from the experience but don't prevent core functionality.*", "*No medium severity issues found.*"},
	{domain.SeverityLow, "Low Severity / Polish Issues", "*Minor improvements that would enhance perceived quality.*", "*No low severity issues found.*"},
}

// Recommendation fires once when any finding label contains Trigger.
type Recommendation struct {
	Trigger string
	Text    string
}

var Recommendations = []Recommendation{
	{"acknowledge", "**Improve Intent Recognition**: Agent needs better training on recognizing appointment and prescription requests in the opening statement"},
	{"repeated", "**Fix Response Loop**: Track conversation state so the agent does not repeat the same response"},
	{"greeting", "**Standardize Greetings**: Ensure every call starts with a polite, professional greeting"},
	{"closing", "**Add Closing Protocol**: End conversations with a thank you and goodbye"},
	{"prematurely", "**Extend Conversations**: Agent should ask follow-up questions rather than ending calls abruptly"},
}

// Render builds the report. outcomes is the optional call status summary
// from the call ledger; nil omits that section.
func Render(result analyzer.Result, generatedAt time.Time, outcomes []domain.CallStatusCount) string {
	var buf strings.Builder

	buf.WriteString("# Bug Report: Voice Agent Testing\n\n")
	buf.WriteString(fmt.Sprintf("**Date:** %s  \n", generatedAt.Format("January 02, 2006 at 03:04 PM")))
	buf.WriteString(fmt.Sprintf("**Calls Analyzed:** %d  \n", result.Trials))
	buf.WriteString(fmt.Sprintf("**Total Issues Found:** %d\n\n", result.TotalIssues()))

	buf.WriteString("## Executive Summary\n\n")
	buf.WriteString("Each call simulated a patient interaction with the voice agent under test. ")
	buf.WriteString("Findings below come from rule checks over the recorded transcripts.\n\n")
	buf.WriteString("### Severity Breakdown\n")
	buf.WriteString(fmt.Sprintf("- **Critical:** %d - System failures preventing basic functionality\n", len(result.BySeverity(domain.SeverityCritical))))
	buf.WriteString(fmt.Sprintf("- **High:** %d - Major issues affecting user experience\n", len(result.BySeverity(domain.SeverityHigh))))
	buf.WriteString(fmt.Sprintf("- **Medium:** %d - Noticeable problems that should be fixed\n", len(result.BySeverity(domain.SeverityMedium))))
	buf.WriteString(fmt.Sprintf("- **Low:** %d - Minor quality improvements\n\n", len(result.BySeverity(domain.SeverityLow))))
	buf.WriteString("---\n\n")

	if len(outcomes) > 0 {
		writeOutcomes(&buf, outcomes)
	}

	for _, sec := range sections {
		writeSection(&buf, sec, result.BySeverity(sec.severity))
	}

	writePatterns(&buf, result.RankedRecurrence())
	writeRecommendations(&buf, result.Findings)

	buf.WriteString("## Test Data\n\n")
	buf.WriteString(fmt.Sprintf("All %d call transcripts are available in the transcripts directory.\n\n", result.Trials))
	buf.WriteString("Each transcript includes:\n")
	buf.WriteString("- Full conversation history\n")
	buf.WriteString("- Timing information\n")
	buf.WriteString("- Real-time issue detection\n")
	buf.WriteString("- Call metadata\n")

	return buf.String()
}

func writeOutcomes(buf *strings.Builder, outcomes []domain.CallStatusCount) {
	buf.WriteString("## Call Outcomes\n\n")
	buf.WriteString("| Status | Calls |\n")
	buf.WriteString("|--------|-------|\n")
	for _, o := range outcomes {
		buf.WriteString(fmt.Sprintf("| %s | %d |\n", o.Status, o.Count))
	}
	buf.WriteString("\n---\n\n")
}

func writeSection(buf *strings.Builder, sec section, findings []domain.Finding) {
	buf.WriteString(fmt.Sprintf("## %s\n\n", sec.title))
	if sec.blurb != "" {
		buf.WriteString(sec.blurb + "\n\n")
	}
	if len(findings) == 0 {
		buf.WriteString(sec.placeholder + "\n\n---\n\n")
		return
	}
	for i, f := range findings {
		buf.WriteString(fmt.Sprintf("### %d. %s\n\n", i+1, f.Issue))
		buf.WriteString(fmt.Sprintf("**Call ID:** `%s`\n\n", f.CallID))
		if f.Scenario != "" {
			buf.WriteString(fmt.Sprintf("**Scenario:** %s\n\n", f.Scenario))
		}
		if f.Evidence != "" {
			buf.WriteString("**Agent's Response:**\n")
			buf.WriteString(quote(f.Evidence) + "\n\n")
		}
		if f.HasTurns() {
			buf.WriteString(fmt.Sprintf("**Conversation Length:** Only %d turns\n\n", f.Turns))
		}
		buf.WriteString("---\n\n")
	}
}

// quote keeps multi-line evidence inside one blockquote.
func quote(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "> " + l
	}
	return strings.Join(lines, "\n")
}

func writePatterns(buf *strings.Builder, ranked []analyzer.IssueCount) {
	buf.WriteString("## Common Patterns\n\n")
	buf.WriteString("*Issues logged during calls, across all transcripts.*\n\n")
	if len(ranked) == 0 {
		buf.WriteString("*No recurring patterns detected.*\n\n---\n\n")
		return
	}
	buf.WriteString("| Issue Type | Occurrences |\n")
	buf.WriteString("|-----------|-------------|\n")
	for _, ic := range ranked {
		buf.WriteString(fmt.Sprintf("| %s | %d |\n", ic.Label, ic.Count))
	}
	buf.WriteString("\n---\n\n")
}

func writeRecommendations(buf *strings.Builder, findings []domain.Finding) {
	buf.WriteString("## Recommendations\n\n")
	n := 0
	for _, rec := range Recommendations {
		if !anyIssueContains(findings, rec.Trigger) {
			continue
		}
		n++
		buf.WriteString(fmt.Sprintf("%d. %s\n\n", n, rec.Text))
	}
	if n == 0 {
		buf.WriteString("*Overall performance is good. Continue monitoring for edge cases.*\n\n")
	}
	buf.WriteString("---\n\n")
}

func anyIssueContains(findings []domain.Finding, trigger string) bool {
	for _, f := range findings {
		if strings.Contains(strings.ToLower(f.Issue), trigger) {
			return true
		}
	}
	return false
}

func FileName(at time.Time) string {
	return fmt.Sprintf("BUG_REPORT_%s.md", at.Format(fileTimeLayout))
}

func WriteReportFile(content, outputDir string, at time.Time) (string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(outputDir, FileName(at))
	return path, os.WriteFile(path, []byte(content), 0644)
}
