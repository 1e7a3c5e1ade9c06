package session

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/ytakahashi/firetodo/internal/models"
)

var ErrSessionNotFound = errors.New("session not found")

// Record is a persisted browser session.
type Record struct {
	ID        string
	User      *models.User
	DarkMode  bool
	ExpiresAt int64
}

type Store interface {
	CreateSession(sessionID string, expiresAt int64) (*Record, error)
	SessionByID(sessionID string) (*Record, error)
	SetUser(sessionID string, user *models.User) error
	SetDarkMode(sessionID string, enabled bool) error
	RefreshSession(sessionID string, newExpiresAt int64) error
	RenameSession(oldID, newID string, newExpiresAt int64) error
	DeleteSession(sessionID string) error
	DeleteExpired(now int64) (int64, error)
	Close() error
}

type sqliteStore struct {
	db    *sql.DB
	mutex sync.Mutex
}

// NewSQLiteStore opens (or creates) the session database at path.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("error enabling WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	store := &sqliteStore{db: db}
	if err := store.initializeTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing tables: %w", err)
	}

	return store, nil
}

func (s *sqliteStore) initializeTables() error {
	_, err := s.db.Exec(`
        CREATE TABLE IF NOT EXISTS session (
            id TEXT NOT NULL PRIMARY KEY,
            uid TEXT NOT NULL DEFAULT '',
            email TEXT NOT NULL DEFAULT '',
            display_name TEXT NOT NULL DEFAULT '',
            dark_mode INTEGER NOT NULL DEFAULT 0,
            expires_at INTEGER NOT NULL
        )
    `)
	if err != nil {
		return fmt.Errorf("error creating session table: %w", err)
	}

	_, err = s.db.Exec(`
        CREATE INDEX IF NOT EXISTS session_expires_at_index ON session(expires_at)
    `)
	if err != nil {
		return fmt.Errorf("error creating expires_at index: %w", err)
	}

	return nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func (s *sqliteStore) CreateSession(sessionID string, expiresAt int64) (*Record, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, err := s.db.Exec("INSERT INTO session (id, expires_at) VALUES (?, ?)", sessionID, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("error creating session: %w", err)
	}
	return &Record{ID: sessionID, ExpiresAt: expiresAt}, nil
}

func (s *sqliteStore) SessionByID(sessionID string) (*Record, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var (
		rec  Record
		user models.User
		dark int
	)
	err := s.db.QueryRow(`
        SELECT id, uid, email, display_name, dark_mode, expires_at
        FROM session
        WHERE id = ?
    `, sessionID).Scan(&rec.ID, &user.UID, &user.Email, &user.DisplayName, &dark, &rec.ExpiresAt)

	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error getting session: %w", err)
	}

	rec.DarkMode = dark != 0
	if user.UID != "" {
		rec.User = &user
	}
	return &rec, nil
}

func (s *sqliteStore) exec(desc, query string, args ...any) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	result, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("error %s: %w", desc, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// SetUser stores the signed-in user, or clears it when user is nil.
func (s *sqliteStore) SetUser(sessionID string, user *models.User) error {
	var u models.User
	if user != nil {
		u = *user
	}
	return s.exec("setting session user",
		"UPDATE session SET uid = ?, email = ?, display_name = ? WHERE id = ?",
		u.UID, u.Email, u.DisplayName, sessionID)
}

func (s *sqliteStore) SetDarkMode(sessionID string, enabled bool) error {
	dark := 0
	if enabled {
		dark = 1
	}
	return s.exec("setting dark mode", "UPDATE session SET dark_mode = ? WHERE id = ?", dark, sessionID)
}

func (s *sqliteStore) RefreshSession(sessionID string, newExpiresAt int64) error {
	return s.exec("updating session", "UPDATE session SET expires_at = ? WHERE id = ?", newExpiresAt, sessionID)
}

// RenameSession moves a session to a new id, keeping its data.
func (s *sqliteStore) RenameSession(oldID, newID string, newExpiresAt int64) error {
	return s.exec("renaming session", "UPDATE session SET id = ?, expires_at = ? WHERE id = ?", newID, newExpiresAt, oldID)
}

func (s *sqliteStore) DeleteSession(sessionID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, err := s.db.Exec("DELETE FROM session WHERE id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("error deleting session: %w", err)
	}
	return nil
}

// DeleteExpired removes sessions that expired before now (unix seconds).
func (s *sqliteStore) DeleteExpired(now int64) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	result, err := s.db.Exec("DELETE FROM session WHERE expires_at < ?", now)
	if err != nil {
		return 0, fmt.Errorf("error deleting expired sessions: %w", err)
	}
	return result.RowsAffected()
}
