package analyzer

import (
	"patientbot/internal/domain"
	"patientbot/internal/scenario"
)

const (
	LabelNoAgentResponse      = "No agent response received"
	LabelAppointmentNotAcked  = "Failed to acknowledge appointment request"
	LabelPrescriptionNotAcked = "Failed to acknowledge prescription refill request"
	LabelRepeatedResponse     = "Agent repeated exact same response"
	LabelPrematureEnd         = "Conversation ended prematurely"
	LabelMissingGreeting      = "Missing proper greeting"
	LabelMissingClosing       = "Missing proper closing phrase"
)

const (
	minConversationMessages = 4
	responseEvidenceChars   = 200
	greetingEvidenceChars   = 150
)

var (
	AppointmentAckKeywords  = []string{"appointment", "schedule"}
	PrescriptionAckKeywords = []string{"prescription", "refill", "medication"}
	GreetingKeywords        = []string{"hello", "hi", "good", "thank"}
	ClosingKeywords         = []string{"goodbye", "bye", "thank you"}
)

// Rule is one row of the batch rule table. Check returns zero or more
// findings; severity, call id and (when unset) the issue label are filled in
// by Evaluate.
type Rule struct {
	Severity domain.Severity
	Label    string
	Stop     bool
	Check    func(t transcript) []domain.Finding
}

type transcript struct {
	domain.TranscriptRecord
	agent []string
}

func newTranscript(rec domain.TranscriptRecord) transcript {
	return transcript{TranscriptRecord: rec, agent: rec.AgentTexts()}
}

func (t transcript) firstAgent() string {
	if len(t.agent) == 0 {
		return ""
	}
	return t.agent[0]
}

// Rules is evaluated top to bottom for every transcript.
var Rules = []Rule{
	{
		Severity: domain.SeverityCritical,
		Label:    LabelNoAgentResponse,
		Stop:     true,
		Check: func(t transcript) []domain.Finding {
			if len(t.agent) > 0 {
				return nil
			}
			return []domain.Finding{finding(t.Scenario, "")}
		},
	},
	{
		Severity: domain.SeverityHigh,
		Label:    LabelAppointmentNotAcked,
		Check: func(t transcript) []domain.Finding {
			if !scenario.HasCategory(t.Scenario, scenario.CategoryScheduling) {
				return nil
			}
			if scenario.ContainsAny(t.firstAgent(), AppointmentAckKeywords) {
				return nil
			}
			return []domain.Finding{finding(t.Scenario, truncate(t.firstAgent(), responseEvidenceChars))}
		},
	},
	{
		Severity: domain.SeverityHigh,
		Label:    LabelPrescriptionNotAcked,
		Check: func(t transcript) []domain.Finding {
			if !scenario.HasCategory(t.Scenario, scenario.CategoryPrescription) {
				return nil
			}
			if scenario.ContainsAny(t.firstAgent(), PrescriptionAckKeywords) {
				return nil
			}
			return []domain.Finding{finding(t.Scenario, truncate(t.firstAgent(), responseEvidenceChars))}
		},
	},
	{
		Severity: domain.SeverityMedium,
		Label:    LabelRepeatedResponse,
		Check: func(t transcript) []domain.Finding {
			var out []domain.Finding
			for i := 0; i+1 < len(t.agent); i++ {
				if t.agent[i] == t.agent[i+1] {
					out = append(out, finding("", truncate(t.agent[i], responseEvidenceChars)))
				}
			}
			return out
		},
	},
	{
		Severity: domain.SeverityMedium,
		Label:    LabelPrematureEnd,
		Check: func(t transcript) []domain.Finding {
			if len(t.Messages) >= minConversationMessages {
				return nil
			}
			f := finding("", "")
			f.Turns = len(t.Messages) / 2
			return []domain.Finding{f}
		},
	},
	{
		Severity: domain.SeverityLow,
		Label:    LabelMissingGreeting,
		Check: func(t transcript) []domain.Finding {
			first := t.firstAgent()
			if first == "" || scenario.ContainsAny(first, GreetingKeywords) {
				return nil
			}
			return []domain.Finding{finding("", truncate(first, greetingEvidenceChars))}
		},
	},
	{
		Severity: domain.SeverityLow,
		Label:    LabelMissingClosing,
		Check: func(t transcript) []domain.Finding {
			if len(t.Messages) == 0 {
				return nil
			}
			last := t.Messages[len(t.Messages)-1].Text
			if scenario.ContainsAny(last, ClosingKeywords) {
				return nil
			}
			return []domain.Finding{finding("", "")}
		},
	},
}

func finding(scenarioText, evidence string) domain.Finding {
	return domain.Finding{Scenario: scenarioText, Evidence: evidence, Turns: -1}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
