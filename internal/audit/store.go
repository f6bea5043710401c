// Package audit is the optional Postgres-backed history of session
// lifecycles and decode errors (SPEC_FULL.md §4.7). It is strictly
// best-effort: every write method swallows its own failures after logging,
// so a database outage never blocks or fails a decode session. Close
// returns the database's close error.
package audit

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"
)

// Record summarizes one finished session (spec §4.5: "on close, the
// session hands a summary to the audit store").
type Record struct {
	SessionID   string
	Mode        string // "file" or "stream"
	OpenedAt    time.Time
	ClosedAt    time.Time
	BytesIn     int64
	VideoFrames int64
	AudioFrames int64
}

// ErrorEvent is one decode-loop failure worth persisting for postmortems.
type ErrorEvent struct {
	SessionID string
	Code      int
	Message   string
	At        time.Time
}

// Store is the audit persistence contract. NoopStore satisfies it for
// deployments with no audit DSN configured.
type Store interface {
	RecordSession(Record)
	RecordError(ErrorEvent)
	Close() error
}

// NoopStore discards everything; used when DSN is empty or the initial
// connection fails, so the rest of the system never branches on whether
// auditing is enabled.
type NoopStore struct{}

func (NoopStore) RecordSession(Record)    {}
func (NoopStore) RecordError(ErrorEvent)  {}
func (NoopStore) Close() error            { return nil }

// PostgresStore persists records via database/sql + lib/pq. Grounded on
// database/database.go's InitDB/createTables/Ping idiom in the teacher
// repo, generalized from the broadcaster's users/channels schema to
// session_records/error_events.
type PostgresStore struct {
	db *sql.DB
}

// Open connects to dsn, pings it, and creates the audit tables if absent.
// Any failure returns a NoopStore instead of an error — auditing degrades
// to "off" rather than taking the server down (spec's ambient-observability
// framing: audit is a diagnostic aid, never load-bearing).
func Open(dsn string) Store {
	if dsn == "" {
		return NoopStore{}
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Printf("audit: open: %v, falling back to no-op", err)
		return NoopStore{}
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		log.Printf("audit: ping: %v, falling back to no-op", err)
		db.Close()
		return NoopStore{}
	}
	if err := createTables(db); err != nil {
		log.Printf("audit: create tables: %v, falling back to no-op", err)
		db.Close()
		return NoopStore{}
	}
	return &PostgresStore{db: db}
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS session_records (
			session_id   TEXT PRIMARY KEY,
			mode         TEXT NOT NULL,
			opened_at    TIMESTAMPTZ NOT NULL,
			closed_at    TIMESTAMPTZ NOT NULL,
			bytes_in     BIGINT NOT NULL,
			video_frames BIGINT NOT NULL,
			audio_frames BIGINT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("session_records: %w", err)
	}
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS error_events (
			id         SERIAL PRIMARY KEY,
			session_id TEXT NOT NULL,
			code       INTEGER NOT NULL,
			message    TEXT NOT NULL,
			at         TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("error_events: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecordSession(r Record) {
	_, err := s.db.Exec(`
		INSERT INTO session_records (session_id, mode, opened_at, closed_at, bytes_in, video_frames, audio_frames)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id) DO UPDATE SET
			closed_at = EXCLUDED.closed_at,
			bytes_in = EXCLUDED.bytes_in,
			video_frames = EXCLUDED.video_frames,
			audio_frames = EXCLUDED.audio_frames`,
		r.SessionID, r.Mode, r.OpenedAt, r.ClosedAt, r.BytesIn, r.VideoFrames, r.AudioFrames)
	if err != nil {
		log.Printf("audit: record session %s: %v", r.SessionID, err)
	}
}

func (s *PostgresStore) RecordError(e ErrorEvent) {
	_, err := s.db.Exec(`
		INSERT INTO error_events (session_id, code, message, at) VALUES ($1, $2, $3, $4)`,
		e.SessionID, e.Code, e.Message, e.At)
	if err != nil {
		log.Printf("audit: record error for %s: %v", e.SessionID, err)
	}
}

func (s *PostgresStore) Close() error { return s.db.Close() }
