// Package store provides SQLite persistence for recordings, executions,
// transcript segments, speakers and speaker profiles. The store executes
// exactly what it is asked to; domain invariants live in the services that
// call it.
package store

import (
	"database/sql"
	"errors"

	_ "modernc.org/sqlite"
)

var (
	ErrRecordingNotFound = errors.New("RECORDING_NOT_FOUND")
	ErrExecutionNotFound = errors.New("EXECUTION_NOT_FOUND")
	ErrSpeakerNotFound   = errors.New("SPEAKER_NOT_FOUND")
	ErrProfileNotFound   = errors.New("PROFILE_NOT_FOUND")
)

// Store wraps the SQLite database handle.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS recordings (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	status TEXT NOT NULL,
	duration REAL NOT NULL DEFAULT 0,
	language TEXT NOT NULL DEFAULT '',
	active_execution TEXT NOT NULL DEFAULT '',
	last_error_message TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	last_update_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS executions (
	id TEXT PRIMARY KEY,
	recording_id TEXT NOT NULL REFERENCES recordings(id) ON DELETE CASCADE,
	task_type TEXT NOT NULL,
	status TEXT NOT NULL,
	stage TEXT NOT NULL DEFAULT '',
	progress REAL NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	failure_kind TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS speaker_profiles (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	name TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS speakers (
	id TEXT PRIMARY KEY,
	recording_id TEXT NOT NULL REFERENCES recordings(id) ON DELETE CASCADE,
	user_id TEXT NOT NULL,
	label TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	verified INTEGER NOT NULL DEFAULT 0,
	suggested_name TEXT NOT NULL DEFAULT '',
	confidence REAL,
	profile_id TEXT REFERENCES speaker_profiles(id) ON DELETE SET NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS transcript_segments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	recording_id TEXT NOT NULL REFERENCES recordings(id) ON DELETE CASCADE,
	speaker_id TEXT REFERENCES speakers(id) ON DELETE SET NULL,
	start_time REAL NOT NULL,
	end_time REAL NOT NULL,
	text TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_recordings_user ON recordings(user_id);
CREATE INDEX IF NOT EXISTS idx_recordings_status ON recordings(status, last_update_at);
CREATE INDEX IF NOT EXISTS idx_executions_recording ON executions(recording_id, status);
CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status, updated_at);
CREATE INDEX IF NOT EXISTS idx_speakers_recording ON speakers(recording_id);
CREATE INDEX IF NOT EXISTS idx_speakers_profile ON speakers(profile_id);
CREATE INDEX IF NOT EXISTS idx_segments_recording ON transcript_segments(recording_id);
CREATE INDEX IF NOT EXISTS idx_segments_speaker ON transcript_segments(speaker_id);
`

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	// The pragma rides on the DSN so every pooled connection enforces
	// foreign keys.
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, err
	}
	// modernc's driver serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
