package transcripts

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"patientbot/internal/domain"
	"patientbot/internal/storage/sqlite"
)

func sampleRecord(callID string, messages int, end time.Time) domain.TranscriptRecord {
	start := end.Add(-time.Duration(messages) * time.Second)
	rec := domain.TranscriptRecord{
		CallID:    callID,
		Scenario:  "Schedule an appointment for knee pain that started after running",
		StartTime: start,
		EndTime:   end,
		Duration:  end.Sub(start).Seconds(),
		Issues:    []string{"Agent expressed uncertainty", "Response too verbose"},
	}
	for i := 0; i < messages; i++ {
		speaker := domain.SpeakerPatient
		if i%2 == 1 {
			speaker = domain.SpeakerAgent
		}
		if speaker == domain.SpeakerPatient {
			rec.Turns++
		}
		rec.Messages = append(rec.Messages, domain.Message{
			Speaker:   speaker,
			Text:      strings.Repeat("x", i+1),
			Timestamp: start.Add(time.Duration(i) * time.Second),
		})
	}
	return rec
}

func newTestStore(t *testing.T, withIndex bool) *Store {
	t.Helper()
	var store *Store
	var err error
	if withIndex {
		db, dbErr := sqlite.InitDB(filepath.Join(t.TempDir(), "index.db"))
		if dbErr != nil {
			t.Fatalf("InitDB failed: %v", dbErr)
		}
		t.Cleanup(func() { _ = db.Close() })
		store, err = NewStore(filepath.Join(t.TempDir(), "transcripts"), db)
	} else {
		store, err = NewStore(filepath.Join(t.TempDir(), "transcripts"), nil)
	}
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return store
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t, false)
	end := time.Date(2026, 10, 14, 10, 30, 0, 0, time.UTC)
	rec := sampleRecord("CA1", 6, end)

	path, err := store.Save(rec)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if filepath.Base(path) != "call_CA1_20261014_103000.json" {
		t.Fatalf("unexpected file name: %s", path)
	}

	loaded, err := store.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected 1 record, got %d", len(loaded))
	}
	got := loaded[0]
	if got.Turns != rec.Turns || len(got.Messages) != len(rec.Messages) {
		t.Fatalf("turns/messages mismatch: %+v", got)
	}
	for i := range rec.Messages {
		if got.Messages[i].Speaker != rec.Messages[i].Speaker || got.Messages[i].Text != rec.Messages[i].Text {
			t.Fatalf("message %d mismatch: got %+v want %+v", i, got.Messages[i], rec.Messages[i])
		}
		if !got.Messages[i].Timestamp.Equal(rec.Messages[i].Timestamp) {
			t.Fatalf("message %d timestamp mismatch", i)
		}
	}
	if strings.Join(got.Issues, "|") != strings.Join(rec.Issues, "|") {
		t.Fatalf("issues mismatch: %v", got.Issues)
	}
}

func TestSaveWritesExpectedJSONKeys(t *testing.T) {
	store := newTestStore(t, false)
	path, err := store.Save(sampleRecord("CA1", 2, time.Now()))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, key := range []string{`"call_sid"`, `"scenario"`, `"start_time"`, `"end_time"`, `"duration"`, `"turns"`, `"messages"`, `"issues"`, `"speaker"`, `"timestamp"`} {
		if !strings.Contains(string(data), key) {
			t.Fatalf("expected key %s in transcript:\n%s", key, data)
		}
	}
}

func TestSaveDoesNotOverwrite(t *testing.T) {
	store := newTestStore(t, false)
	end := time.Date(2026, 10, 14, 10, 30, 0, 0, time.UTC)

	first, err := store.Save(sampleRecord("CA1", 2, end))
	if err != nil {
		t.Fatalf("first Save failed: %v", err)
	}
	second, err := store.Save(sampleRecord("CA1", 4, end))
	if err != nil {
		t.Fatalf("second Save failed: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct paths, both %s", first)
	}
	files, _ := filepath.Glob(filepath.Join(store.Dir(), "*.json"))
	if len(files) != 2 {
		t.Fatalf("expected 2 files on disk, got %d", len(files))
	}
}

func TestLoadAllDedupesByCallKeepingLongest(t *testing.T) {
	store := newTestStore(t, false)
	end := time.Date(2026, 10, 14, 10, 30, 0, 0, time.UTC)

	if _, err := store.Save(sampleRecord("CA1", 6, end)); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Save(sampleRecord("CA1", 3, end.Add(time.Minute))); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Save(sampleRecord("CA2", 4, end)); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(loaded))
	}
	for _, rec := range loaded {
		if rec.CallID == "CA1" && len(rec.Messages) != 6 {
			t.Fatalf("expected longest CA1 transcript, got %d messages", len(rec.Messages))
		}
	}
}

func TestLoadAllSkipsMalformed(t *testing.T) {
	store := newTestStore(t, false)
	if _, err := store.Save(sampleRecord("CA1", 2, time.Now())); err != nil {
		t.Fatal(err)
	}
	bad := map[string]string{
		"broken.json": "{not json",
		"nocall.json": `{"scenario": "x", "messages": []}`,
		"ignored.txt": "hello",
	}
	for name, content := range bad {
		if err := os.WriteFile(filepath.Join(store.Dir(), name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	loaded, err := store.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(loaded) != 1 || loaded[0].CallID != "CA1" {
		t.Fatalf("expected only the valid transcript, got %+v", loaded)
	}
}

func TestLoadDirMissingIsEmpty(t *testing.T) {
	loaded, err := LoadDir(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("expected no error for missing dir, got %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("expected no records, got %d", len(loaded))
	}
}

func TestGetUsesAuthoritativeIndex(t *testing.T) {
	store := newTestStore(t, true)
	end := time.Date(2026, 10, 14, 10, 30, 0, 0, time.UTC)

	if _, err := store.Save(sampleRecord("CA1", 6, end)); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Save(sampleRecord("CA1", 2, end.Add(time.Second))); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get("CA1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.Messages) != 6 {
		t.Fatalf("expected the longer transcript, got %d messages", len(got.Messages))
	}
	if _, err := store.Get("CA-missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	if got := sanitizeFilename("../CA:1/x"); got != "___CA_1_x" {
		t.Fatalf("sanitizeFilename = %q", got)
	}
}
