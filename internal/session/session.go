package session

import (
	"strings"
	"sync"
	"time"

	"patientbot/internal/domain"
)

type State int

const (
	StateStarted State = iota
	StateAwaitingAgentReply
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateStarted:
		return "started"
	case StateAwaitingAgentReply:
		return "awaiting_agent_reply"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

const DefaultMaxTurns = 8

// ClosingPhrases end the call when either side says them.
var ClosingPhrases = []string{"goodbye", "bye", "thank you for calling"}

// Session is one simulated patient call. All mutation happens while the
// caller holds the session lock; the exported accessors take it themselves
// and must not be called from inside a locked section.
type Session struct {
	mu sync.Mutex

	callID    string
	scenario  string
	messages  []domain.Message
	turnCount int
	issues    []string
	startTime time.Time
	state     State
	endReason string
}

func newSession(callID, scenario string, now time.Time) *Session {
	return &Session{
		callID:    callID,
		scenario:  scenario,
		startTime: now,
		state:     StateStarted,
	}
}

func (s *Session) CallID() string   { return s.callID }
func (s *Session) Scenario() string { return s.scenario }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) TurnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnCount
}

func (s *Session) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.messages...)
}

func (s *Session) Issues() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.issues...)
}

func (s *Session) append(speaker domain.Speaker, text string, at time.Time) {
	s.messages = append(s.messages, domain.Message{Speaker: speaker, Text: text, Timestamp: at})
}

func (s *Session) firstPatientLine() string {
	for _, m := range s.messages {
		if m.Speaker == domain.SpeakerPatient {
			return m.Text
		}
	}
	return ""
}

func (s *Session) record(end time.Time) domain.TranscriptRecord {
	issues := append([]string{}, s.issues...)
	return domain.TranscriptRecord{
		CallID:    s.callID,
		Scenario:  s.scenario,
		StartTime: s.startTime,
		EndTime:   end,
		Duration:  end.Sub(s.startTime).Seconds(),
		Turns:     s.turnCount,
		Messages:  append([]domain.Message{}, s.messages...),
		Issues:    issues,
		EndReason: s.endReason,
	}
}

// ShouldEnd is the termination predicate shared by agent and patient lines.
func ShouldEnd(turnCount, maxTurns int, text string) bool {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	if turnCount >= maxTurns {
		return true
	}
	if strings.TrimSpace(text) == "" {
		return true
	}
	return containsClosing(text)
}

func containsClosing(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range ClosingPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// endReason names which clause of ShouldEnd fired.
func endReason(text string, speaker domain.Speaker) string {
	switch {
	case strings.TrimSpace(text) == "":
		return ReasonNoSpeech
	case containsClosing(text) && speaker == domain.SpeakerAgent:
		return ReasonAgentClosing
	case containsClosing(text):
		return ReasonPatientClosing
	default:
		return ReasonTurnLimit
	}
}

const (
	ReasonTurnLimit        = "turn_limit"
	ReasonAgentClosing     = "agent_closing"
	ReasonPatientClosing   = "patient_closing"
	ReasonNoSpeech         = "no_speech"
	ReasonGeneratorFailure = "generator_failure"
	ReasonCallStatusPrefix = "call_status:"
	ReasonShutdown         = "shutdown"
)
