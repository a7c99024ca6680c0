package sqlite

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "patientbot-test.db")
	db, err := InitDB(dbPath)
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestUpsertTranscriptKeepsLongestLog(t *testing.T) {
	db := newTestDB(t)
	base := time.Now().UTC().Truncate(time.Second)

	ok, err := UpsertTranscript(db, TranscriptEntry{CallID: "CA1", Path: "/t/a.json", MessageCount: 6, Turns: 3, SavedAt: base})
	if err != nil || !ok {
		t.Fatalf("first upsert ok=%v err=%v", ok, err)
	}

	ok, err = UpsertTranscript(db, TranscriptEntry{CallID: "CA1", Path: "/t/b.json", MessageCount: 4, Turns: 2, SavedAt: base.Add(time.Second)})
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	if ok {
		t.Fatal("shorter transcript must not replace the authoritative one")
	}
	got, err := GetTranscript(db, "CA1")
	if err != nil {
		t.Fatalf("GetTranscript failed: %v", err)
	}
	if got.Path != "/t/a.json" || got.MessageCount != 6 {
		t.Fatalf("unexpected entry: %+v", got)
	}

	ok, err = UpsertTranscript(db, TranscriptEntry{CallID: "CA1", Path: "/t/c.json", MessageCount: 6, Turns: 3, SavedAt: base.Add(2 * time.Second)})
	if err != nil || !ok {
		t.Fatalf("equal-length upsert ok=%v err=%v", ok, err)
	}
	got, _ = GetTranscript(db, "CA1")
	if got.Path != "/t/c.json" {
		t.Fatalf("expected newer equal-length write to win, got %s", got.Path)
	}

	entries, err := ListTranscripts(db)
	if err != nil {
		t.Fatalf("ListTranscripts failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one entry per call, got %d", len(entries))
	}
}

func TestGetTranscriptMissing(t *testing.T) {
	db := newTestDB(t)
	if _, err := GetTranscript(db, "nope"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestCallStatusCounts(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()
	events := [][2]string{
		{"CA1", "initiated"}, {"CA1", "completed"},
		{"CA2", "completed"}, {"CA2", "completed"},
		{"CA3", "no-answer"},
	}
	for _, ev := range events {
		if err := InsertCallEvent(db, ev[0], ev[1], now); err != nil {
			t.Fatalf("InsertCallEvent failed: %v", err)
		}
	}
	if err := InsertCallEvent(db, "", "completed", now); err == nil {
		t.Fatal("expected empty call id to be rejected")
	}

	counts, err := CallStatusCounts(db, []string{"completed", "no-answer"})
	if err != nil {
		t.Fatalf("CallStatusCounts failed: %v", err)
	}
	if len(counts) != 2 {
		t.Fatalf("expected 2 statuses, got %+v", counts)
	}
	if counts[0].Status != "completed" || counts[0].Count != 2 {
		t.Fatalf("unexpected first count: %+v", counts[0])
	}
	if counts[1].Status != "no-answer" || counts[1].Count != 1 {
		t.Fatalf("unexpected second count: %+v", counts[1])
	}

	all, err := CallStatusCounts(db, nil)
	if err != nil {
		t.Fatalf("CallStatusCounts(nil) failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 statuses without filter, got %+v", all)
	}
}
