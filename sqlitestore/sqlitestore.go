// Package sqlitestore keeps key / value pairs in a single SQLite file.
// It's an alternative to kvstore for consumers that prefer to read
// datasets with SQLite tooling.
package sqlitestore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound  = errors.New("sqlitestore: key not found")
	ErrKeyExists = errors.New("sqlitestore: key already exists")
	ErrReadOnly  = errors.New("sqlitestore: store is read-only")
	ErrTxnDone   = errors.New("sqlitestore: transaction already committed or rolled back")
)

// Magic is the header of every SQLite database file
const Magic = "SQLite format 3\x00"

type Options struct {
	ReadOnly    bool
	NoOverwrite bool
}

type Store struct {
	Path string

	db   *sql.DB
	opts Options
}

func Open(path string, opts *Options) (*Store, error) {
	s := &Store{
		Path: path,
	}
	if opts != nil {
		s.opts = *opts
	}
	if s.opts.ReadOnly {
		// sql.Open would create a missing file
		if _, err := os.Stat(path); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// a single connection so that pragmas apply to every statement
	db.SetMaxOpenConns(1)
	s.db = db

	var stmts []string
	if s.opts.ReadOnly {
		stmts = []string{`PRAGMA query_only = 1`}
	} else {
		// rollback journal keeps the dataset in a single file
		stmts = []string{
			`PRAGMA journal_mode = DELETE`,
			`PRAGMA synchronous = FULL`,
			`CREATE TABLE IF NOT EXISTS kv (
				key TEXT PRIMARY KEY,
				value BLOB
			)`,
		}
	}
	for _, q := range stmts {
		if _, err = db.Exec(q); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlitestore: open '%s': %w", path, err)
		}
	}
	return s, nil
}

type Txn struct {
	tx   *sql.Tx
	stmt *sql.Stmt
	done bool
}

func (s *Store) Begin() (*Txn, error) {
	if s.opts.ReadOnly {
		return nil, ErrReadOnly
	}
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	q := "INSERT OR REPLACE INTO kv (key, value) VALUES (?, ?)"
	if s.opts.NoOverwrite {
		q = "INSERT INTO kv (key, value) VALUES (?, ?)"
	}
	stmt, err := tx.Prepare(q)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	return &Txn{
		tx:   tx,
		stmt: stmt,
	}, nil
}

func isConstraintErr(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (t *Txn) Put(key, value []byte) error {
	if t.done {
		return ErrTxnDone
	}
	if value == nil {
		value = []byte{}
	}
	_, err := t.stmt.Exec(string(key), value)
	if err != nil && isConstraintErr(err) {
		return fmt.Errorf("%w: '%s'", ErrKeyExists, key)
	}
	return err
}

func (t *Txn) Commit() error {
	if t.done {
		return ErrTxnDone
	}
	t.done = true
	t.stmt.Close()
	return t.tx.Commit()
}

// Rollback is a no-op after Commit so it's safe to defer
func (t *Txn) Rollback() {
	if t.done {
		return
	}
	t.done = true
	t.stmt.Close()
	_ = t.tx.Rollback()
}

func (s *Store) Get(key []byte) ([]byte, error) {
	var val []byte
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", string(key)).Scan(&val)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Count returns number of keys starting with prefix
func (s *Store) Count(prefix string) (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM kv WHERE substr(key, 1, ?) = ?", len(prefix), prefix).Scan(&n)
	return n, err
}

// Keys calls fn for keys starting with prefix, in ascending order,
// until fn returns false
func (s *Store) Keys(prefix string, fn func(key string) bool) error {
	rows, err := s.db.Query("SELECT key FROM kv WHERE substr(key, 1, ?) = ? ORDER BY key", len(prefix), prefix)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		if err = rows.Scan(&key); err != nil {
			return err
		}
		if !fn(key) {
			break
		}
	}
	return rows.Err()
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
