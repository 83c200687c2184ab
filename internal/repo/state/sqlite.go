package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS user_state (
	usr        TEXT PRIMARY KEY,
	doc        TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLiteBackend stores one JSON document per user in a local SQLite file.
type SQLiteBackend struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init state schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) Load(user string) (*Record, error) {
	var doc string
	err := b.db.QueryRow(`SELECT doc FROM user_state WHERE usr = ?`, user).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state for %q: %w", user, err)
	}
	var rec Record
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return nil, fmt.Errorf("decode state for %q: %w", user, err)
	}
	return &rec, nil
}

func (b *SQLiteBackend) Save(user string, rec *Record) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode state for %q: %w", user, err)
	}
	_, err = b.db.Exec(`
		INSERT INTO user_state (usr, doc, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(usr) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
		user, string(doc), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save state for %q: %w", user, err)
	}
	return nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
