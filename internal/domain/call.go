package domain

import "time"

type Speaker string

const (
	SpeakerPatient Speaker = "Patient"
	SpeakerAgent   Speaker = "Agent"
)

type Message struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// TranscriptRecord is the persisted snapshot of a call session. Field names
// match the transcript JSON written by earlier versions of the bot.
type TranscriptRecord struct {
	CallID    string    `json:"call_sid"`
	Scenario  string    `json:"scenario"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Duration  float64   `json:"duration"` // seconds
	Turns     int       `json:"turns"`
	Messages  []Message `json:"messages"`
	Issues    []string  `json:"issues"`
	EndReason string    `json:"end_reason,omitempty"`
}

func (r TranscriptRecord) AgentTexts() []string {
	var out []string
	for _, m := range r.Messages {
		if m.Speaker == SpeakerAgent {
			out = append(out, m.Text)
		}
	}
	return out
}

type Severity int

const (
	SeverityCritical Severity = iota
	SeverityHigh
	SeverityMedium
	SeverityLow
)

// Severities lists every severity from highest to lowest.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityHigh:
		return "high"
	case SeverityMedium:
		return "medium"
	case SeverityLow:
		return "low"
	default:
		return "unknown"
	}
}

type Finding struct {
	CallID   string
	Severity Severity
	Issue    string
	Scenario string // empty when the rule does not report it
	Evidence string
	Turns    int // set only by the premature-ending rule; -1 otherwise
}

func (f Finding) HasTurns() bool {
	return f.Turns >= 0
}

// CallStatusCount is one row of the call outcome summary.
type CallStatusCount struct {
	Status string
	Count  int
}
