// internal/db/store.go
package db

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when no session matches an ID or prefix.
var ErrNotFound = errors.New("session not found")

type Store struct {
	db *sql.DB
}

type Session struct {
	ID        string
	Model     string
	Voice     string
	UseRAG    bool
	CreatedAt time.Time
	UpdatedAt time.Time
	Status    string // active, closed, failed
	TurnCount int
}

type Turn struct {
	ID        int64
	SessionID string
	Role      string // user, assistant
	Content   string
	Kind      string // text, voice
	CreatedAt time.Time
}

func Open() (*Store, error) {
	dir, err := DataDir()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "create data dir")
	}

	dbPath := filepath.Join(dir, "sessions.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, errors.Wrap(err, "open archive")
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate archive")
	}

	return store, nil
}

// DataDir is where the archive and the chat log live.
func DataDir() (string, error) {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "voxchat"), nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		model TEXT NOT NULL,
		voice TEXT NOT NULL,
		use_rag INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		status TEXT DEFAULT 'active'
	);

	CREATE TABLE IF NOT EXISTS turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		kind TEXT DEFAULT 'text',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession records a new chat session.
func (s *Store) CreateSession(id, model, voice string, useRAG bool) error {
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, model, voice, use_rag) VALUES (?, ?, ?, ?)`,
		id, model, voice, useRAG,
	)
	return errors.Wrap(err, "create session")
}

const sessionColumns = `s.id, s.model, s.voice, s.use_rag, s.created_at, s.updated_at, s.status,
	(SELECT COUNT(*) FROM turns t WHERE t.session_id = s.id)`

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var sess Session
	var status sql.NullString
	err := row.Scan(&sess.ID, &sess.Model, &sess.Voice, &sess.UseRAG,
		&sess.CreatedAt, &sess.UpdatedAt, &status, &sess.TurnCount)
	if err != nil {
		return nil, err
	}
	sess.Status = status.String
	return &sess, nil
}

// GetSession retrieves a session by ID
func (s *Store) GetSession(id string) (*Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions s WHERE s.id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sess, errors.Wrap(err, "get session")
}

// FindSession resolves a full ID or a unique ID prefix.
func (s *Store) FindSession(prefix string) (*Session, error) {
	if prefix == "" {
		return nil, ErrNotFound
	}
	rows, err := s.db.Query(
		`SELECT `+sessionColumns+` FROM sessions s WHERE s.id LIKE ? || '%' ORDER BY s.updated_at DESC LIMIT 2`,
		prefix,
	)
	if err != nil {
		return nil, errors.Wrap(err, "find session")
	}
	defer rows.Close()

	var found []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		found = append(found, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	switch len(found) {
	case 0:
		return nil, ErrNotFound
	case 1:
		return found[0], nil
	}
	return nil, errors.Errorf("session prefix %q is ambiguous", prefix)
}

// ListSessions returns all sessions ordered by update time
func (s *Store) ListSessions() ([]Session, error) {
	rows, err := s.db.Query(`SELECT ` + sessionColumns + ` FROM sessions s ORDER BY s.updated_at DESC, s.created_at DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "list sessions")
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// AddTurn appends a finalized turn to a session
func (s *Store) AddTurn(sessionID, role, content, kind string) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO turns (session_id, role, content, kind) VALUES (?, ?, ?, ?)`,
		sessionID, role, content, kind,
	)
	if err != nil {
		return 0, errors.Wrap(err, "add turn")
	}

	s.db.Exec(`UPDATE sessions SET updated_at = CURRENT_TIMESTAMP WHERE id = ?`, sessionID)

	return result.LastInsertId()
}

// GetTurns retrieves all turns of a session in order
func (s *Store) GetTurns(sessionID string) ([]Turn, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, role, content, kind, created_at
		 FROM turns WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "get turns")
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var kind sql.NullString
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Role, &t.Content, &kind, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Kind = kind.String
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// UpdateSessionStatus updates the status of a session
func (s *Store) UpdateSessionStatus(id, status string) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, id,
	)
	return errors.Wrap(err, "update session status")
}

// DeleteSession removes a session and its turns.
func (s *Store) DeleteSession(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM turns WHERE session_id = ?`, id); err != nil {
		return errors.Wrap(err, "delete turns")
	}
	res, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "delete session")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}
