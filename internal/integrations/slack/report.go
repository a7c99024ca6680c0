package slackbot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/slack-go/slack"
)

// Uploader is the part of *slack.Client used to distribute reports.
type Uploader interface {
	UploadFileV2Context(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error)
}

func NewClient(token string, httpClient *http.Client) *slack.Client {
	if httpClient == nil {
		return slack.New(token)
	}
	return slack.New(token, slack.OptionHTTPClient(httpClient))
}

// ReportSummary is shown as the upload comment.
type ReportSummary struct {
	Calls    int
	Findings int
	Issues   int
}

func (s ReportSummary) Comment() string {
	return fmt.Sprintf("Voice agent bug report: %d calls analyzed, %d findings, %d total issues", s.Calls, s.Findings, s.Issues)
}

// PostReport uploads the report file at path to channelID.
func PostReport(ctx context.Context, up Uploader, channelID, path string, summary ReportSummary) error {
	if up == nil || channelID == "" {
		return errors.New("slack upload is not configured")
	}
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat report: %w", err)
	}
	if fi.Size() == 0 {
		return fmt.Errorf("report %s is empty", path)
	}

	file, err := up.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		File:           path,
		FileSize:       int(fi.Size()),
		Filename:       filepath.Base(path),
		Channel:        channelID,
		Title:          filepath.Base(path),
		InitialComment: summary.Comment(),
	})
	if err != nil {
		log.Printf("Error uploading report file: %v", err)
		return fmt.Errorf("upload report: %w", err)
	}
	fileID := ""
	if file != nil {
		fileID = file.ID
	}
	log.Printf("report uploaded channel=%s file=%s id=%s", channelID, filepath.Base(path), fileID)
	return nil
}
