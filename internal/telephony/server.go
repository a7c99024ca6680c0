// Package telephony exposes the call session service as telephony webhooks
// answering in TwiML.
package telephony

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"patientbot/internal/metrics"
	"patientbot/internal/session"
	"patientbot/internal/storage/sqlite"
	"patientbot/internal/storage/transcripts"
)

const (
	routeVoice  = "voice"
	routeSpeech = "handle-speech"
	routeStatus = "status"
)

type Options struct {
	PublicURL string
	Voice     string
	Language  string
	Now       func() time.Time
}

type Server struct {
	svc    *session.Service
	store  *transcripts.Store
	ledger *sql.DB
	speech Speech
	now    func() time.Time
}

// NewServer wires the webhook handlers. store and ledger are optional; without
// them the transcript lookup route answers 404 and statuses are not recorded.
func NewServer(svc *session.Service, store *transcripts.Store, ledger *sql.DB, opts Options) *Server {
	base := strings.TrimRight(opts.PublicURL, "/")
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Server{
		svc:    svc,
		store:  store,
		ledger: ledger,
		speech: Speech{
			Voice:     opts.Voice,
			Language:  opts.Language,
			SpeechURL: base + "/handle-speech",
		},
		now: now,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	r.Post("/voice", s.handleVoice)
	r.Post("/handle-speech", s.handleSpeech)
	r.Post("/status", s.handleStatus)
	r.Get("/calls", s.handleActiveCalls)
	r.Get("/transcripts", s.handleTranscriptIndex)
	r.Get("/transcripts/{callID}", s.handleTranscript)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	return r
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	callID, ok := requireCallSid(w, r, routeVoice)
	if !ok {
		return
	}
	reply := s.svc.Start(r.Context(), callID)
	if reply.Hangup {
		s.writeTwiML(w, routeVoice, s.speech.reply(reply))
		return
	}
	s.writeTwiML(w, routeVoice, s.speech.opening(reply.Line))
}

func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	callID, ok := requireCallSid(w, r, routeSpeech)
	if !ok {
		return
	}
	reply := s.svc.HandleSpeech(r.Context(), callID, r.FormValue("SpeechResult"))
	s.writeTwiML(w, routeSpeech, s.speech.reply(reply))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	callID, ok := requireCallSid(w, r, routeStatus)
	if !ok {
		return
	}
	status := strings.ToLower(strings.TrimSpace(r.FormValue("CallStatus")))
	if status == "" {
		metrics.WebhookRequests.WithLabelValues(routeStatus, "bad_request").Inc()
		http.Error(w, "CallStatus is required", http.StatusBadRequest)
		return
	}

	if s.ledger != nil {
		if err := sqlite.InsertCallEvent(s.ledger, callID, status, s.now()); err != nil {
			log.Printf("call ledger insert failed call=%s status=%s err=%v", callID, status, err)
		}
	}
	flushed := s.svc.HandleStatus(callID, status)
	log.Printf("call-status call=%s status=%s flushed=%t", callID, status, flushed)
	metrics.WebhookRequests.WithLabelValues(routeStatus, "ok").Inc()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleActiveCalls(w http.ResponseWriter, r *http.Request) {
	ids := s.svc.Registry().CallIDs()
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": ids, "count": len(ids)})
}

// handleTranscriptIndex lists the authoritative transcript of every call.
func (s *Server) handleTranscriptIndex(w http.ResponseWriter, r *http.Request) {
	entries := []sqlite.TranscriptEntry{}
	if s.ledger != nil {
		listed, err := sqlite.ListTranscripts(s.ledger)
		if err != nil {
			log.Printf("transcript index failed err=%v", err)
			http.Error(w, "transcript index failed", http.StatusInternalServerError)
			return
		}
		entries = append(entries, listed...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"transcripts": entries, "count": len(entries)})
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.NotFound(w, r)
		return
	}
	rec, err := s.store.Get(chi.URLParam(r, "callID"))
	if errors.Is(err, transcripts.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		log.Printf("transcript lookup failed err=%v", err)
		http.Error(w, "transcript lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func requireCallSid(w http.ResponseWriter, r *http.Request, route string) (string, bool) {
	callID := strings.TrimSpace(r.FormValue("CallSid"))
	if callID == "" {
		metrics.WebhookRequests.WithLabelValues(route, "bad_request").Inc()
		http.Error(w, "CallSid is required", http.StatusBadRequest)
		return "", false
	}
	return callID, true
}

func (s *Server) writeTwiML(w http.ResponseWriter, route string, resp twimlResponse) {
	body, err := marshalTwiML(resp)
	if err != nil {
		log.Printf("twiml marshal failed route=%s err=%v", route, err)
		metrics.WebhookRequests.WithLabelValues(route, "error").Inc()
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	metrics.WebhookRequests.WithLabelValues(route, "ok").Inc()
	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("json encode failed err=%v", err)
	}
}
