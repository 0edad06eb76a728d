package store

import (
	"database/sql"
	"fmt"
	"time"
)

// WithAdvisoryLock runs fn while holding the named advisory lock. The lock
// is a row in advisory_locks: a transaction inserts it with ON CONFLICT
// DO NOTHING and commits, fn runs after that commit, and the row is
// deleted when fn returns. If the row already exists the call returns an
// "already held" error without running fn. This replaces a filesystem lock file with the
// database-level advisory lock spec §5 allows, since the store already
// owns the one file every process contends on.
//
// A held lock whose holder process has died is not automatically broken;
// callers needing staleness recovery should check AcquiredBefore and call
// ForceRelease.
func (s *Store) WithAdvisoryLock(name, holder string, fn func() error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin lock transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO advisory_locks (name, holder, acquired_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		name, holder, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("lock %s is already held", name)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit lock acquisition: %w", err)
	}

	defer s.releaseLock(name)
	return fn()
}

func (s *Store) releaseLock(name string) {
	s.db.Exec(`DELETE FROM advisory_locks WHERE name = ?`, name)
}

// AcquiredBefore reports whether lock name is held and was acquired
// before cutoff, used by a recovery path to detect and break a lock
// abandoned by a crashed process.
func (s *Store) AcquiredBefore(name string, cutoff time.Time) (bool, error) {
	var acquiredAt time.Time
	row := s.db.QueryRow(`SELECT acquired_at FROM advisory_locks WHERE name = ?`, name)
	err := row.Scan(&acquiredAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return acquiredAt.Before(cutoff), nil
}

// ForceRelease removes a lock row unconditionally. Intended for operator-
// initiated recovery from a crashed holder, not for normal unlock.
func (s *Store) ForceRelease(name string) error {
	_, err := s.db.Exec(`DELETE FROM advisory_locks WHERE name = ?`, name)
	return err
}
