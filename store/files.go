package store

import (
	"fmt"
	"time"

	"github.com/lewis-group/crystalmace/models"
)

// RegisterFile records an artifact produced by a calculation. Registration
// is idempotent on (content_hash, path): re-registering an artifact whose
// bytes and destination path are unchanged is a no-op (spec §5), so a
// restarted callback that re-scans a step directory never double-counts
// files.
func (s *Store) RegisterFile(f models.FileArtifact) (created bool, err error) {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	res, err := s.db.Exec(
		`INSERT INTO files (id, calculation_id, path, kind, content_hash, size_bytes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(content_hash, path) DO NOTHING`,
		f.ID, f.CalculationID, f.Path, string(f.Kind), f.ContentHash, f.SizeBytes, f.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("register file %s: %w", f.Path, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListFiles returns every artifact registered for a calculation.
func (s *Store) ListFiles(calculationID string) ([]models.FileArtifact, error) {
	rows, err := s.db.Query(
		`SELECT id, calculation_id, path, kind, content_hash, size_bytes, created_at
		 FROM files WHERE calculation_id = ? ORDER BY created_at ASC`,
		calculationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list files for %s: %w", calculationID, err)
	}
	defer rows.Close()

	var out []models.FileArtifact
	for rows.Next() {
		var f models.FileArtifact
		var kind string
		if err := rows.Scan(&f.ID, &f.CalculationID, &f.Path, &kind, &f.ContentHash, &f.SizeBytes, &f.CreatedAt); err != nil {
			return nil, err
		}
		f.Kind = models.FileKind(kind)
		out = append(out, f)
	}
	return out, rows.Err()
}

// FindFileByKind returns the first artifact of a given kind for a
// calculation, e.g. the solver_output file a classifier reads.
func (s *Store) FindFileByKind(calculationID string, kind models.FileKind) (models.FileArtifact, error) {
	var f models.FileArtifact
	var k string
	row := s.db.QueryRow(
		`SELECT id, calculation_id, path, kind, content_hash, size_bytes, created_at
		 FROM files WHERE calculation_id = ? AND kind = ? ORDER BY created_at ASC LIMIT 1`,
		calculationID, string(kind),
	)
	err := row.Scan(&f.ID, &f.CalculationID, &f.Path, &k, &f.ContentHash, &f.SizeBytes, &f.CreatedAt)
	if err != nil {
		return models.FileArtifact{}, err
	}
	f.Kind = models.FileKind(k)
	return f, nil
}
