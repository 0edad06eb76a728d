// Package store is the single-file relational persistence layer every
// other control-plane component is injected with. It generalizes the
// teacher's SQLite-backed job queue (services/job_queue.go) from one
// "jobs" table into the seven logical tables the control plane needs,
// keeping the same open/initSchema/WAL-mode shape.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps the single SQLite file all components share.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite-backed store at path and
// ensures its schema is current.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// The control plane is single-threaded cooperative I/O per process;
	// one connection avoids SQLite's writer-lock contention across
	// goroutines within a single CLI invocation.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for components (e.g. the advisory
// lock) that need direct transaction control.
func (s *Store) DB() *sql.DB {
	return s.db
}
