package sqlite

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"patientbot/internal/domain"
)

// TranscriptEntry points at the authoritative transcript file for a call.
type TranscriptEntry struct {
	CallID       string    `json:"call_sid"`
	Path         string    `json:"path"`
	Scenario     string    `json:"scenario"`
	MessageCount int       `json:"message_count"`
	Turns        int       `json:"turns"`
	EndReason    string    `json:"end_reason"`
	SavedAt      time.Time `json:"saved_at"`
}

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// One writer at a time; concurrent calls flush through the same handle.
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS transcripts (
		call_id       TEXT PRIMARY KEY,
		path          TEXT NOT NULL,
		scenario      TEXT DEFAULT '',
		message_count INTEGER NOT NULL,
		turns         INTEGER NOT NULL DEFAULT 0,
		end_reason    TEXT DEFAULT '',
		saved_at      DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS call_events (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		call_id     TEXT NOT NULL,
		status      TEXT NOT NULL,
		received_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_call_events_call ON call_events(call_id);
	CREATE INDEX IF NOT EXISTS idx_call_events_status ON call_events(status);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// UpsertTranscript records entry as authoritative unless the call already has
// a transcript with more messages. Equal counts prefer the newer write.
// It reports whether entry became authoritative.
func UpsertTranscript(db *sql.DB, entry TranscriptEntry) (bool, error) {
	res, err := db.Exec(
		`INSERT INTO transcripts (call_id, path, scenario, message_count, turns, end_reason, saved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(call_id) DO UPDATE SET
			path = excluded.path,
			scenario = excluded.scenario,
			message_count = excluded.message_count,
			turns = excluded.turns,
			end_reason = excluded.end_reason,
			saved_at = excluded.saved_at
		 WHERE excluded.message_count >= transcripts.message_count`,
		entry.CallID, entry.Path, entry.Scenario, entry.MessageCount, entry.Turns, entry.EndReason, entry.SavedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetTranscript returns sql.ErrNoRows when the call has no transcript.
func GetTranscript(db *sql.DB, callID string) (TranscriptEntry, error) {
	var e TranscriptEntry
	err := db.QueryRow(
		`SELECT call_id, path, scenario, message_count, turns, end_reason, saved_at
		 FROM transcripts WHERE call_id = ?`,
		callID,
	).Scan(&e.CallID, &e.Path, &e.Scenario, &e.MessageCount, &e.Turns, &e.EndReason, &e.SavedAt)
	return e, err
}

func ListTranscripts(db *sql.DB) ([]TranscriptEntry, error) {
	rows, err := db.Query(
		`SELECT call_id, path, scenario, message_count, turns, end_reason, saved_at
		 FROM transcripts ORDER BY saved_at, call_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []TranscriptEntry
	for rows.Next() {
		var e TranscriptEntry
		if err := rows.Scan(&e.CallID, &e.Path, &e.Scenario, &e.MessageCount, &e.Turns, &e.EndReason, &e.SavedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func InsertCallEvent(db *sql.DB, callID, status string, at time.Time) error {
	if callID == "" || status == "" {
		return errors.New("call id and status are required")
	}
	_, err := db.Exec(
		`INSERT INTO call_events (call_id, status, received_at) VALUES (?, ?, ?)`,
		callID, status, at,
	)
	return err
}

// CallStatusCounts counts distinct calls per status among the given
// statuses, most frequent first. An empty filter counts every status.
func CallStatusCounts(db *sql.DB, statuses []string) ([]domain.CallStatusCount, error) {
	query := `SELECT status, COUNT(DISTINCT call_id) AS n FROM call_events`
	var args []any
	if len(statuses) > 0 {
		query += ` WHERE status IN (?` + strings.Repeat(", ?", len(statuses)-1) + `)`
		for _, s := range statuses {
			args = append(args, s)
		}
	}
	query += ` GROUP BY status ORDER BY n DESC, status`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []domain.CallStatusCount
	for rows.Next() {
		var c domain.CallStatusCount
		if err := rows.Scan(&c.Status, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}
