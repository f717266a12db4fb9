// Package sqlite provides the durable core.SessionStore tier backed by an
// embedded SQLite database (modernc.org/sqlite, no cgo). Lifecycle
// transitions are enforced with guarded UPDATEs so claim/finish/approve keep
// their compare-and-swap semantics across processes, not just goroutines.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hupe1980/applyforge/core"
	_ "modernc.org/sqlite"
)

// Store implements core.SessionStore and core.StaleSessionStore on SQLite.
type Store struct {
	db *sql.DB
}

// New creates a SQLite-backed session store at dbPath.
func New(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		state TEXT NOT NULL,
		locked INTEGER NOT NULL DEFAULT 0,
		active_run TEXT NOT NULL DEFAULT '',
		job_json TEXT,
		documents_json TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_owner ON sessions(owner_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_state_updated ON sessions(state, updated_at);

	CREATE TABLE IF NOT EXISTS session_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		message_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON session_messages(session_id, id);

	CREATE TABLE IF NOT EXISTS session_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		severity TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_log_session ON session_log(session_id, id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// Create persists a new session. The id must not exist yet.
func (s *Store) Create(ctx context.Context, sess *core.Session) error {
	docsJSON, err := json.Marshal(sess.Documents)
	if err != nil {
		return fmt.Errorf("marshal documents: %w", err)
	}

	var jobJSON interface{}
	if sess.Job != nil {
		raw, err := json.Marshal(sess.Job)
		if err != nil {
			return fmt.Errorf("marshal job context: %w", err)
		}
		jobJSON = string(raw)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, owner_id, state, locked, active_run, job_json, documents_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.OwnerID, string(sess.State), boolToInt(sess.Locked), sess.ActiveRun,
		jobJSON, string(docsJSON), sess.Created.Unix(), sess.Updated.Unix(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("session %s already exists: %w", sess.ID, core.ErrConcurrentModification)
		}
		return fmt.Errorf("insert session: %w", err)
	}

	for _, msg := range sess.Messages {
		if err := insertMessage(ctx, tx, sess.ID, msg); err != nil {
			return err
		}
	}
	for _, line := range sess.Log {
		if err := insertLogLine(ctx, tx, sess.ID, line); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create tx: %w", err)
	}
	return nil
}

// Get returns the fully hydrated session or core.ErrSessionNotFound.
func (s *Store) Get(ctx context.Context, id string) (*core.Session, error) {
	sess, err := s.getSessionRow(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.hydrate(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// List returns all sessions belonging to ownerID, newest first.
func (s *Store) List(ctx context.Context, ownerID string) ([]*core.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM sessions WHERE owner_id = ? ORDER BY created_at DESC, rowid DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	out := make([]*core.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

// Claim atomically moves an existing session into processing for runID.
// The guarded UPDATE is the compare-and-swap; zero affected rows are
// classified by re-reading the row.
func (s *Store) Claim(ctx context.Context, id, runID string) (*core.Session, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET state = ?, active_run = ?, updated_at = ?
		WHERE id = ? AND locked = 0 AND (state != ? OR active_run = '' OR active_run = ?)`,
		string(core.StateProcessing), runID, time.Now().Unix(),
		id, string(core.StateProcessing), runID,
	)
	if err != nil {
		return nil, fmt.Errorf("claim session: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("claim rows affected: %w", err)
	}
	if affected == 0 {
		sess, err := s.getSessionRow(ctx, id)
		if err != nil {
			return nil, err
		}
		if sess.Locked {
			return nil, core.ErrSessionLocked
		}
		return nil, core.ErrConcurrentModification
	}

	return s.Get(ctx, id)
}

// Finish moves a claimed session into a terminal state, merging the run's
// document references. Only the claiming run may finish.
func (s *Store) Finish(ctx context.Context, id, runID string, state core.SessionState, docs []core.DocumentRef) error {
	if !state.Terminal() {
		return fmt.Errorf("finish requires a terminal state, got %q", state)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin finish tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var (
		locked    int
		activeRun string
		docsJSON  string
	)
	err = tx.QueryRowContext(ctx, `
		SELECT locked, active_run, documents_json FROM sessions WHERE id = ?`, id).
		Scan(&locked, &activeRun, &docsJSON)
	if err == sql.ErrNoRows {
		return core.ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("read session for finish: %w", err)
	}
	if locked != 0 {
		return core.ErrSessionLocked
	}
	if activeRun != runID {
		return fmt.Errorf("run %s does not own session %s: %w", runID, id, core.ErrConcurrentModification)
	}

	documents := map[core.DocumentKind]core.DocumentRef{}
	if err := json.Unmarshal([]byte(docsJSON), &documents); err != nil {
		return fmt.Errorf("unmarshal documents: %w", err)
	}
	for _, d := range docs {
		documents[d.Kind] = d
	}
	merged, err := json.Marshal(documents)
	if err != nil {
		return fmt.Errorf("marshal documents: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE sessions SET state = ?, active_run = '', documents_json = ?, updated_at = ?
		WHERE id = ? AND active_run = ?`,
		string(state), string(merged), time.Now().Unix(), id, runID,
	)
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish rows affected: %w", err)
	}
	if affected == 0 {
		return core.ErrConcurrentModification
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit finish tx: %w", err)
	}
	return nil
}

// Approve sets the one-way lock and returns the session. Approving an
// already-locked session returns it unchanged.
func (s *Store) Approve(ctx context.Context, id string) (*core.Session, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET locked = 1, updated_at = ?
		WHERE id = ? AND locked = 0 AND state != ?`,
		time.Now().Unix(), id, string(core.StateProcessing),
	)
	if err != nil {
		return nil, fmt.Errorf("approve session: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("approve rows affected: %w", err)
	}
	if affected == 0 {
		sess, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if sess.Locked {
			return sess, nil // already approved, idempotent
		}
		return nil, core.ErrSessionProcessing
	}

	return s.Get(ctx, id)
}

// AppendMessage appends to the session's chat log and bumps updated_at so
// active runs are never mistaken for stale ones.
func (s *Store) AppendMessage(ctx context.Context, id string, msg core.ChatMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin message tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := guardMutable(ctx, tx, id); err != nil {
		return err
	}
	if err := insertMessage(ctx, tx, id, msg); err != nil {
		return err
	}
	if err := touch(ctx, tx, id); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit message tx: %w", err)
	}
	return nil
}

// AppendLog appends ordered progress log lines.
func (s *Store) AppendLog(ctx context.Context, id string, lines ...core.LogLine) error {
	if len(lines) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin log tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := guardMutable(ctx, tx, id); err != nil {
		return err
	}
	for _, line := range lines {
		if err := insertLogLine(ctx, tx, id, line); err != nil {
			return err
		}
	}
	if err := touch(ctx, tx, id); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit log tx: %w", err)
	}
	return nil
}

// SetJobContext stores the extracted job context.
func (s *Store) SetJobContext(ctx context.Context, id string, job core.JobContext) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job context: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET job_json = ?, updated_at = ? WHERE id = ? AND locked = 0`,
		string(raw), time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("set job context: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("job context rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := s.getSessionRow(ctx, id); err != nil {
			return err
		}
		return core.ErrSessionLocked
	}
	return nil
}

// Log returns the full ordered log snapshot. Insert order (the autoincrement
// id) is the authoritative ordering, matching per-run sequence order.
func (s *Store) Log(ctx context.Context, id string) ([]core.LogLine, error) {
	if _, err := s.getSessionRow(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, severity, message, created_at
		FROM session_log WHERE session_id = ? ORDER BY id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("query log: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var lines []core.LogLine
	for rows.Next() {
		var (
			line      core.LogLine
			severity  string
			createdAt int64
		)
		if err := rows.Scan(&line.RunID, &line.Seq, &severity, &line.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("scan log line: %w", err)
		}
		line.Severity = core.Severity(severity)
		line.Timestamp = time.Unix(createdAt, 0).UTC()
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return lines, nil
}

// ListStale returns sessions still processing whose last update is older
// than the cutoff, oldest first. Implements core.StaleSessionStore.
func (s *Store) ListStale(ctx context.Context, cutoff time.Time) ([]*core.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM sessions WHERE state = ? AND updated_at < ? ORDER BY updated_at ASC`,
		string(core.StateProcessing), cutoff.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("query stale sessions: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale sessions: %w", err)
	}

	out := make([]*core.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

// getSessionRow loads the sessions row without messages or log.
func (s *Store) getSessionRow(ctx context.Context, id string) (*core.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, state, locked, active_run, job_json, documents_json, created_at, updated_at
		FROM sessions WHERE id = ?`, id)

	var (
		sess      core.Session
		state     string
		locked    int
		jobJSON   sql.NullString
		docsJSON  string
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&sess.ID, &sess.OwnerID, &state, &locked, &sess.ActiveRun, &jobJSON, &docsJSON, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, core.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	sess.State = core.SessionState(state)
	sess.Locked = locked != 0
	sess.Created = time.Unix(createdAt, 0).UTC()
	sess.Updated = time.Unix(updatedAt, 0).UTC()
	sess.Documents = map[core.DocumentKind]core.DocumentRef{}
	if err := json.Unmarshal([]byte(docsJSON), &sess.Documents); err != nil {
		return nil, fmt.Errorf("unmarshal documents: %w", err)
	}
	if jobJSON.Valid {
		var job core.JobContext
		if err := json.Unmarshal([]byte(jobJSON.String), &job); err != nil {
			return nil, fmt.Errorf("unmarshal job context: %w", err)
		}
		sess.Job = &job
	}
	sess.Messages = []core.ChatMessage{}
	sess.Log = []core.LogLine{}

	return &sess, nil
}

// hydrate attaches messages and log lines to a session row.
func (s *Store) hydrate(ctx context.Context, sess *core.Session) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_json FROM session_messages WHERE session_id = ? ORDER BY id ASC`, sess.ID)
	if err != nil {
		return fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return fmt.Errorf("scan message: %w", err)
		}
		var msg core.ChatMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return fmt.Errorf("unmarshal message: %w", err)
		}
		sess.Messages = append(sess.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate messages: %w", err)
	}

	log, err := s.Log(ctx, sess.ID)
	if err != nil {
		return err
	}
	sess.Log = log

	return nil
}

// guardMutable classifies append preconditions inside a transaction.
func guardMutable(ctx context.Context, tx *sql.Tx, id string) error {
	var locked int
	err := tx.QueryRowContext(ctx, `SELECT locked FROM sessions WHERE id = ?`, id).Scan(&locked)
	if err == sql.ErrNoRows {
		return core.ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("read session lock: %w", err)
	}
	if locked != 0 {
		return core.ErrSessionLocked
	}
	return nil
}

func insertMessage(ctx context.Context, tx *sql.Tx, sessionID string, msg core.ChatMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO session_messages (session_id, message_json, created_at) VALUES (?, ?, ?)`,
		sessionID, string(raw), msg.Timestamp.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func insertLogLine(ctx context.Context, tx *sql.Tx, sessionID string, line core.LogLine) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO session_log (session_id, run_id, seq, severity, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, line.RunID, line.Seq, string(line.Severity), line.Message, line.Timestamp.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert log line: %w", err)
	}
	return nil
}

func touch(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, time.Now().Unix(), id); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
