package session

import (
	"context"
	"log"
	"strings"
	"time"

	"patientbot/internal/detect"
	"patientbot/internal/domain"
	"patientbot/internal/metrics"
	"patientbot/internal/scenario"
)

const (
	ClosingLine  = "Thank you, goodbye."
	FallbackLine = "I'm sorry, I have to go now. Goodbye."
)

// Generator produces the next patient line from the scenario and the
// conversation so far. Implementations must not keep per-call state.
type Generator interface {
	NextUtterance(ctx context.Context, scenario string, history []domain.Message) (string, error)
}

// Saver persists a finished session.
type Saver interface {
	Save(rec domain.TranscriptRecord) (string, error)
}

type Options struct {
	MaxTurns        int
	MaxAttempts     int
	RetryBackoff    time.Duration
	GenerateTimeout time.Duration
	Now             func() time.Time
}

// Reply is what the telephony layer should speak next. Hangup false means
// keep listening for the agent.
type Reply struct {
	Line   string
	Hangup bool
}

// Service drives call sessions from inbound telephony events.
type Service struct {
	registry  *Registry
	generator Generator
	saver     Saver
	opts      Options
}

func NewService(registry *Registry, generator Generator, saver Saver, opts Options) *Service {
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = DefaultMaxTurns
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryBackoff < 0 {
		opts.RetryBackoff = 0
	}
	if opts.GenerateTimeout <= 0 {
		opts.GenerateTimeout = 20 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	registry.now = opts.Now
	return &Service{registry: registry, generator: generator, saver: saver, opts: opts}
}

func (svc *Service) Registry() *Registry {
	return svc.registry
}

// Start handles call-start. A retried start for a call that already spoke
// its opening line replays that line instead of generating a new one; a
// start for a call that already ended gets a bare hangup.
func (svc *Service) Start(ctx context.Context, callID string) Reply {
	s, created := svc.registry.Create(callID, scenario.ForCall(callID))
	if s == nil {
		log.Printf("call-start for ended call=%s, hanging up", callID)
		return Reply{Hangup: true}
	}
	if created {
		metrics.CallsStarted.Inc()
		metrics.ActiveCalls.Set(float64(svc.registry.Len()))
		log.Printf("call-start call=%s scenario=%q", callID, s.scenario)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateEnded:
		return Reply{Line: ClosingLine, Hangup: true}
	case StateAwaitingAgentReply:
		log.Printf("call-start retry call=%s replaying opening line", callID)
		return Reply{Line: s.firstPatientLine()}
	}

	line, err := svc.generate(ctx, s)
	if err != nil {
		log.Printf("call-start generator failed call=%s err=%v", callID, err)
		return svc.fallback(s)
	}
	s.append(domain.SpeakerPatient, line, svc.opts.Now())
	s.turnCount = 1
	s.state = StateAwaitingAgentReply
	metrics.PatientTurns.Inc()
	log.Printf("patient call=%s turn=%d text=%q", callID, s.turnCount, line)
	return Reply{Line: line}
}

// HandleSpeech handles one transcribed agent utterance. Unknown or ended
// calls get an immediate hangup.
func (svc *Service) HandleSpeech(ctx context.Context, callID, agentText string) Reply {
	s, ok := svc.registry.Get(callID)
	if !ok {
		if svc.registry.Ended(callID) {
			log.Printf("speech for ended call=%s, hanging up", callID)
		} else {
			log.Printf("speech for unknown call=%s, hanging up", callID)
		}
		return Reply{Hangup: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateEnded {
		return Reply{Hangup: true}
	}
	s.state = StateAwaitingAgentReply

	log.Printf("agent call=%s turn=%d text=%q", callID, s.turnCount, agentText)
	s.append(domain.SpeakerAgent, agentText, svc.opts.Now())
	for _, label := range detect.Detect(agentText, s.turnCount) {
		s.issues = append(s.issues, label)
		metrics.IssuesDetected.WithLabelValues(label).Inc()
		log.Printf("realtime-issue call=%s turn=%d label=%q", callID, s.turnCount, label)
	}

	if ShouldEnd(s.turnCount, svc.opts.MaxTurns, agentText) {
		svc.finish(s, endReason(agentText, domain.SpeakerAgent))
		return Reply{Line: ClosingLine, Hangup: true}
	}

	next, err := svc.generate(ctx, s)
	if err != nil {
		log.Printf("speech generator failed call=%s err=%v", callID, err)
		return svc.fallback(s)
	}
	s.append(domain.SpeakerPatient, next, svc.opts.Now())
	s.turnCount++
	metrics.PatientTurns.Inc()
	log.Printf("patient call=%s turn=%d text=%q", callID, s.turnCount, next)

	if ShouldEnd(s.turnCount, svc.opts.MaxTurns, next) {
		svc.finish(s, endReason(next, domain.SpeakerPatient))
		return Reply{Line: next, Hangup: true}
	}
	return Reply{Line: next}
}

// HandleStatus is the out-of-band cleanup path. It reports whether this call
// flushed the session; a session already ended elsewhere is left alone.
func (svc *Service) HandleStatus(callID, status string) bool {
	if !IsTerminalStatus(status) {
		return false
	}
	s, ok := svc.registry.Get(callID)
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateEnded {
		svc.registry.retire(s)
		return false
	}
	svc.finish(s, ReasonCallStatusPrefix+status)
	return true
}

// FlushAll ends every live session, used on shutdown.
func (svc *Service) FlushAll() int {
	flushed := 0
	for _, id := range svc.registry.CallIDs() {
		s, ok := svc.registry.Get(id)
		if !ok {
			continue
		}
		s.mu.Lock()
		if s.state != StateEnded {
			svc.finish(s, ReasonShutdown)
			flushed++
		}
		s.mu.Unlock()
	}
	return flushed
}

func (svc *Service) fallback(s *Session) Reply {
	s.append(domain.SpeakerPatient, FallbackLine, svc.opts.Now())
	svc.finish(s, ReasonGeneratorFailure)
	return Reply{Line: FallbackLine, Hangup: true}
}

// finish must be called with s.mu held. The state flips to Ended before the
// write so no other path can flush the same session again.
func (svc *Service) finish(s *Session, reason string) {
	s.state = StateEnded
	s.endReason = reason
	if len(s.messages) > 0 && svc.saver != nil {
		rec := s.record(svc.opts.Now())
		path, err := svc.saver.Save(rec)
		if err != nil {
			metrics.TranscriptWrites.WithLabelValues("error").Inc()
			log.Printf("transcript save failed call=%s err=%v", s.callID, err)
		} else {
			metrics.TranscriptWrites.WithLabelValues("ok").Inc()
			log.Printf("transcript saved call=%s path=%s turns=%d messages=%d", s.callID, path, rec.Turns, len(rec.Messages))
		}
	}
	svc.registry.retire(s)
	metrics.CallsEnded.WithLabelValues(reasonLabel(reason)).Inc()
	metrics.ActiveCalls.Set(float64(svc.registry.Len()))
	log.Printf("call-end call=%s reason=%s turns=%d", s.callID, reason, s.turnCount)
}

func (svc *Service) generate(ctx context.Context, s *Session) (string, error) {
	history := append([]domain.Message(nil), s.messages...)
	var lastErr error
	for attempt := 1; attempt <= svc.opts.MaxAttempts; attempt++ {
		if attempt > 1 && svc.opts.RetryBackoff > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt-1) * svc.opts.RetryBackoff):
			}
		}
		started := time.Now()
		attemptCtx, cancel := context.WithTimeout(ctx, svc.opts.GenerateTimeout)
		line, err := svc.generator.NextUtterance(attemptCtx, s.scenario, history)
		cancel()
		if err == nil {
			metrics.GeneratorLatency.Observe(time.Since(started).Seconds())
			return line, nil
		}
		lastErr = err
		metrics.GeneratorErrors.Inc()
		log.Printf("generator attempt=%d/%d call=%s err=%v", attempt, svc.opts.MaxAttempts, s.callID, err)
		if ctx.Err() != nil {
			break
		}
	}
	return "", lastErr
}

// TerminalStatuses trigger the out-of-band flush.
var TerminalStatuses = []string{"completed", "failed", "busy", "no-answer", "canceled"}

func IsTerminalStatus(status string) bool {
	for _, s := range TerminalStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func reasonLabel(reason string) string {
	if strings.HasPrefix(reason, ReasonCallStatusPrefix) {
		return "call_status"
	}
	return reason
}
