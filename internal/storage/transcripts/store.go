// Package transcripts persists finished call sessions as one JSON document
// per flush and reads them back for batch analysis.
package transcripts

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"patientbot/internal/domain"
	"patientbot/internal/storage/sqlite"
)

const fileTimeLayout = "20060102_150405"

var ErrNotFound = errors.New("transcript not found")

// Store writes transcripts under Dir. When an index database is supplied,
// every save also updates the authoritative pointer for its call id.
type Store struct {
	dir   string
	index *sql.DB
	now   func() time.Time
}

func NewStore(dir string, index *sql.DB) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create transcripts dir: %w", err)
	}
	return &Store{dir: dir, index: index, now: time.Now}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// Save never overwrites an existing file: a second save for the same call in
// the same second gets a numeric suffix.
func (s *Store) Save(rec domain.TranscriptRecord) (string, error) {
	if rec.CallID == "" {
		return "", errors.New("transcript has no call id")
	}
	if rec.Messages == nil {
		rec.Messages = []domain.Message{}
	}
	if rec.Issues == nil {
		rec.Issues = []string{}
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal transcript: %w", err)
	}

	completed := rec.EndTime
	if completed.IsZero() {
		completed = s.now()
	}
	base := fmt.Sprintf("call_%s_%s", sanitizeFilename(rec.CallID), completed.Format(fileTimeLayout))

	path, err := writeExclusive(s.dir, base, data)
	if err != nil {
		return "", err
	}

	if s.index != nil {
		authoritative, err := sqlite.UpsertTranscript(s.index, sqlite.TranscriptEntry{
			CallID:       rec.CallID,
			Path:         path,
			Scenario:     rec.Scenario,
			MessageCount: len(rec.Messages),
			Turns:        rec.Turns,
			EndReason:    rec.EndReason,
			SavedAt:      completed,
		})
		if err != nil {
			log.Printf("transcript index update failed call=%s path=%s err=%v", rec.CallID, path, err)
		} else if !authoritative {
			log.Printf("transcript superseded call=%s path=%s messages=%d", rec.CallID, path, len(rec.Messages))
		}
	}
	return path, nil
}

func writeExclusive(dir, base string, data []byte) (string, error) {
	for attempt := 0; attempt < 100; attempt++ {
		name := base + ".json"
		if attempt > 0 {
			name = fmt.Sprintf("%s_%d.json", base, attempt)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create transcript: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return "", fmt.Errorf("write transcript: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("close transcript: %w", err)
		}
		return path, nil
	}
	return "", fmt.Errorf("too many transcripts named %s", base)
}

// LoadAll reads every transcript in the store directory. Malformed files are
// skipped with a warning. When one call id was written more than once, only
// the record with the longest message log is returned (ties go to the later
// end time). Results are ordered by start time, then call id.
func (s *Store) LoadAll() ([]domain.TranscriptRecord, error) {
	return LoadDir(s.dir)
}

func LoadDir(dir string) ([]domain.TranscriptRecord, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("No transcripts found at %s", dir)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read transcripts dir: %w", err)
	}

	byCall := make(map[string]domain.TranscriptRecord)
	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		rec, err := readRecord(path)
		if err != nil {
			log.Printf("WARNING: skipping transcript %s: %v", path, err)
			continue
		}
		loaded++
		if cur, ok := byCall[rec.CallID]; !ok || preferred(rec, cur) {
			byCall[rec.CallID] = rec
		}
	}
	if dupes := loaded - len(byCall); dupes > 0 {
		log.Printf("transcripts dedup files=%d calls=%d duplicates=%d", loaded, len(byCall), dupes)
	}

	records := make([]domain.TranscriptRecord, 0, len(byCall))
	for _, rec := range byCall {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].StartTime.Equal(records[j].StartTime) {
			return records[i].StartTime.Before(records[j].StartTime)
		}
		return records[i].CallID < records[j].CallID
	})
	log.Printf("Loaded %d transcripts", len(records))
	return records, nil
}

// Get returns the authoritative transcript for one call via the index.
func (s *Store) Get(callID string) (domain.TranscriptRecord, error) {
	if s.index == nil {
		return domain.TranscriptRecord{}, errors.New("transcript index not configured")
	}
	entry, err := sqlite.GetTranscript(s.index, callID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TranscriptRecord{}, ErrNotFound
	}
	if err != nil {
		return domain.TranscriptRecord{}, err
	}
	return readRecord(entry.Path)
}

func readRecord(path string) (domain.TranscriptRecord, error) {
	var rec domain.TranscriptRecord
	data, err := os.ReadFile(path)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("parse: %w", err)
	}
	if strings.TrimSpace(rec.CallID) == "" {
		return rec, errors.New("missing call_sid")
	}
	return rec, nil
}

func preferred(candidate, current domain.TranscriptRecord) bool {
	if len(candidate.Messages) != len(current.Messages) {
		return len(candidate.Messages) > len(current.Messages)
	}
	return candidate.EndTime.After(current.EndTime)
}

func sanitizeFilename(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
