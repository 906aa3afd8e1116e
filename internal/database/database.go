package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Database wraps the SQLite connection and owns the schema
type Database struct {
	db *sql.DB
}

// User is a stored account row
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS blobs (
	key        TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS nudge_history (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	nudge_id         TEXT NOT NULL,
	message          TEXT NOT NULL,
	nudge_type       TEXT NOT NULL,
	priority         INTEGER NOT NULL,
	nudge_created_at TIMESTAMP NOT NULL,
	user_response    TEXT NOT NULL,
	response_time    TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_user_time
	ON nudge_history(user_id, response_time DESC);

CREATE TABLE IF NOT EXISTS clarity_scores (
	user_id    TEXT PRIMARY KEY,
	score      INTEGER NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
`

// New opens (or creates) the SQLite database at path and applies the schema
func New(path string) (*Database, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the underlying connection
func (d *Database) Close() error {
	return d.db.Close()
}

// CreateUser inserts a new account row
func (d *Database) CreateUser(user *User) error {
	_, err := d.db.Exec(
		`INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		user.ID, user.Email, user.PasswordHash, user.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUserByEmail returns the user with the given email, or nil if absent
func (d *Database) GetUserByEmail(email string) (*User, error) {
	row := d.db.QueryRow(
		`SELECT id, email, password_hash, created_at FROM users WHERE email = ?`, email,
	)
	user := &User{}
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return user, nil
}

// GetUser returns the user with the given id, or nil if absent
func (d *Database) GetUser(id string) (*User, error) {
	row := d.db.QueryRow(
		`SELECT id, email, password_hash, created_at FROM users WHERE id = ?`, id,
	)
	user := &User{}
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetBlob returns the stored value for key, or nil when absent
func (d *Database) GetBlob(key string) ([]byte, error) {
	row := d.db.QueryRow(`SELECT data FROM blobs WHERE key = ?`, key)
	var data []byte
	err := row.Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get blob %q: %w", key, err)
	}
	return data, nil
}

// PutBlob fully overwrites the stored value for key
func (d *Database) PutBlob(key string, data []byte) error {
	_, err := d.db.Exec(
		`INSERT INTO blobs (key, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		key, data, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to put blob %q: %w", key, err)
	}
	return nil
}

// LastClarityScore returns the last persisted score for the user
func (d *Database) LastClarityScore(userID string) (int, bool, error) {
	row := d.db.QueryRow(`SELECT score FROM clarity_scores WHERE user_id = ?`, userID)
	var score int
	err := row.Scan(&score)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get clarity score: %w", err)
	}
	return score, true, nil
}

// SaveClarityScore upserts the user's last published score
func (d *Database) SaveClarityScore(userID string, score int, at time.Time) error {
	_, err := d.db.Exec(
		`INSERT INTO clarity_scores (user_id, score, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET score = excluded.score, updated_at = excluded.updated_at`,
		userID, score, at,
	)
	if err != nil {
		return fmt.Errorf("failed to save clarity score: %w", err)
	}
	return nil
}
