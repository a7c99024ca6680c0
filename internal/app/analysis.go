package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"patientbot/internal/analyzer"
	"patientbot/internal/domain"
	slackbot "patientbot/internal/integrations/slack"
	"patientbot/internal/report"
	"patientbot/internal/session"
	"patientbot/internal/storage/sqlite"
	"patientbot/internal/storage/transcripts"
)

// AnalysisDeps configures one offline analysis run. Ledger and Uploader are
// optional.
type AnalysisDeps struct {
	TranscriptsDir string
	OutputDir      string
	Ledger         *sql.DB
	Uploader       slackbot.Uploader
	ChannelID      string
	Now            func() time.Time
}

type AnalysisOutcome struct {
	Result     analyzer.Result
	ReportPath string
	Posted     bool
}

// RunAnalysis loads every transcript, evaluates the batch rules and writes
// the markdown report, then uploads it when Slack is configured.
func RunAnalysis(ctx context.Context, deps AnalysisDeps) (AnalysisOutcome, error) {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	records, err := transcripts.LoadDir(deps.TranscriptsDir)
	if err != nil {
		return AnalysisOutcome{}, fmt.Errorf("load transcripts: %w", err)
	}
	result := analyzer.Analyze(records)
	log.Printf("analysis done trials=%d findings=%d logged_issues=%d", result.Trials, len(result.Findings), result.LoggedIssueCount())

	var outcomes []domain.CallStatusCount
	if deps.Ledger != nil {
		outcomes, err = sqlite.CallStatusCounts(deps.Ledger, session.TerminalStatuses)
		if err != nil {
			log.Printf("call outcome summary unavailable: %v", err)
			outcomes = nil
		}
	}

	at := now()
	content := report.Render(result, at, outcomes)
	path, err := report.WriteReportFile(content, deps.OutputDir, at)
	if err != nil {
		return AnalysisOutcome{Result: result}, fmt.Errorf("write report: %w", err)
	}
	log.Printf("report written path=%s", path)

	out := AnalysisOutcome{Result: result, ReportPath: path}
	if deps.Uploader == nil || deps.ChannelID == "" {
		return out, nil
	}
	summary := slackbot.ReportSummary{Calls: result.Trials, Findings: len(result.Findings), Issues: result.TotalIssues()}
	if err := slackbot.PostReport(ctx, deps.Uploader, deps.ChannelID, path, summary); err != nil {
		return out, err
	}
	out.Posted = true
	return out, nil
}
