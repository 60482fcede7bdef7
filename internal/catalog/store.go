// Package catalog journals sessions and their segment files in SQLite so partial
// recordings can be found and recovered by hand.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rbright/escuta/internal/audio"
	"github.com/rbright/escuta/internal/combine"
	"github.com/rbright/escuta/internal/segment"
)

// ErrNotFound reports an unknown session id.
var ErrNotFound = errors.New("session not found")

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	patient TEXT NOT NULL,
	sample_rate INTEGER NOT NULL,
	channels INTEGER NOT NULL,
	state TEXT NOT NULL,
	combined_path TEXT NOT NULL DEFAULT '',
	canonical_path TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	created_at REAL NOT NULL,
	updated_at REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS segments (
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	ordinal INTEGER NOT NULL,
	path TEXT NOT NULL,
	frames INTEGER NOT NULL,
	sample_rate INTEGER NOT NULL,
	created_at REAL NOT NULL,
	PRIMARY KEY (session_id, ordinal)
);

CREATE INDEX IF NOT EXISTS sessions_created_at ON sessions(created_at);
`

// Store is the SQLite-backed session catalog.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// DefaultPath returns the catalog location inside outputDir.
func DefaultPath(outputDir string) string {
	return filepath.Join(outputDir, "escuta.sqlite")
}

// Open opens (creating if needed) the catalog at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create catalog dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping catalog: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply catalog schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Begin records a new session in the recording state.
func (s *Store) Begin(ctx context.Context, id, patient string, format audio.Format, createdAt time.Time) error {
	ts := unixFromTime(createdAt)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, patient, sample_rate, channels, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, patient, format.SampleRate, format.Channels, StateRecording, ts, ts)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", id, err)
	}
	return nil
}

// Segment records one flushed part file.
func (s *Store) Segment(ctx context.Context, id string, seg segment.Segment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin segment tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO segments (session_id, ordinal, path, frames, sample_rate, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, seg.Ordinal, seg.Path, seg.Frames, seg.SampleRate, unixFromTime(seg.CreatedAt)); err != nil {
		return fmt.Errorf("insert segment %d of %s: %w", seg.Ordinal, id, err)
	}
	if err := touch(ctx, tx, id, s.now()); err != nil {
		return err
	}
	return tx.Commit()
}

// Finish marks a session combined and stores its output paths.
func (s *Store) Finish(ctx context.Context, id string, result combine.Result) error {
	return s.update(ctx, id, `
		UPDATE sessions SET state = ?, combined_path = ?, canonical_path = ?, error = '', updated_at = ?
		WHERE id = ?
	`, StateFinished, result.CombinedPath, result.CanonicalPath, unixFromTime(s.now()), id)
}

// Fail marks a session whose combination failed. Its segments remain on disk.
func (s *Store) Fail(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.update(ctx, id, `
		UPDATE sessions SET state = ?, error = ?, updated_at = ?
		WHERE id = ?
	`, StateFailed, msg, unixFromTime(s.now()), id)
}

// Discard marks an unfinished session as discarded. Finished sessions keep their state.
func (s *Store) Discard(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET state = ?, updated_at = ?
		WHERE id = ? AND state != ?
	`, StateDiscarded, unixFromTime(s.now()), id, StateFinished)
	if err != nil {
		return fmt.Errorf("discard session %s: %w", id, err)
	}
	return nil
}

// Get returns one session with its segments.
func (s *Store) Get(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, patient, sample_rate, channels, state, combined_path, canonical_path, error, created_at, updated_at
		FROM sessions
		WHERE id = ?
	`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Session{}, err
	}
	sess.Segments, err = s.segments(ctx, id)
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Recent returns the newest sessions first, each with its segments.
func (s *Store) Recent(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, patient, sample_rate, channels, state, combined_path, canonical_path, error, created_at, updated_at
		FROM sessions
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range sessions {
		sessions[i].Segments, err = s.segments(ctx, sessions[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return sessions, nil
}

func (s *Store) segments(ctx context.Context, id string) ([]Segment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, ordinal, path, frames, sample_rate, created_at
		FROM segments
		WHERE session_id = ?
		ORDER BY ordinal ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer rows.Close()

	var segments []Segment
	for rows.Next() {
		var seg Segment
		var createdAt float64
		if err := rows.Scan(&seg.SessionID, &seg.Ordinal, &seg.Path, &seg.Frames, &seg.SampleRate, &createdAt); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		seg.CreatedAt = timeFromUnix(createdAt)
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

func (s *Store) update(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var sess Session
	var createdAt, updatedAt float64
	if err := row.Scan(&sess.ID, &sess.Patient, &sess.SampleRate, &sess.Channels, &sess.State,
		&sess.CombinedPath, &sess.CanonicalPath, &sess.Error, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("scan session: %w", err)
	}
	sess.CreatedAt = timeFromUnix(createdAt)
	sess.UpdatedAt = timeFromUnix(updatedAt)
	return sess, nil
}

func touch(ctx context.Context, tx *sql.Tx, id string, at time.Time) error {
	res, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, unixFromTime(at), id)
	if err != nil {
		return fmt.Errorf("touch session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
