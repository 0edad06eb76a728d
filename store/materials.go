package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lewis-group/crystalmace/models"
)

// GetOrCreateMaterial returns the existing material row for id, or creates
// it from originalInput if absent. Materials are created once and never
// mutated afterward (invariant: a material is a pure function of its
// first input filename, and identical inputs across restarts yield
// identical rows).
func (s *Store) GetOrCreateMaterial(id, originalInput string) (models.Material, error) {
	m, err := s.GetMaterial(id)
	if err == nil {
		return m, nil
	}
	if err != sql.ErrNoRows {
		return models.Material{}, fmt.Errorf("lookup material %s: %w", id, err)
	}

	m = models.Material{
		ID:            id,
		OriginalInput: originalInput,
		CreatedAt:     time.Now(),
	}
	_, err = s.db.Exec(
		`INSERT INTO materials (id, original_input, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		m.ID, m.OriginalInput, m.CreatedAt,
	)
	if err != nil {
		return models.Material{}, fmt.Errorf("insert material %s: %w", id, err)
	}
	return s.GetMaterial(id)
}

// GetMaterial fetches a material row by ID.
func (s *Store) GetMaterial(id string) (models.Material, error) {
	var m models.Material
	var formula sql.NullString
	var spaceGroup, dimensionality sql.NullInt64

	row := s.db.QueryRow(
		`SELECT id, original_input, formula, space_group, dimensionality, created_at
		 FROM materials WHERE id = ?`, id)
	err := row.Scan(&m.ID, &m.OriginalInput, &formula, &spaceGroup, &dimensionality, &m.CreatedAt)
	if err != nil {
		return models.Material{}, err
	}
	m.Formula = formula.String
	m.SpaceGroup = int(spaceGroup.Int64)
	m.Dimensionality = int(dimensionality.Int64)
	return m, nil
}

// SetMaterialFormula populates the formula/space-group/dimensionality
// fields the first time they become known (e.g. from the first completed
// calculation's extracted properties). Subsequent calls are no-ops if the
// fields are already populated, per "formulas extracted once ... not
// overwritten by downstream steps" (spec §4.6).
func (s *Store) SetMaterialFormula(id, formula string, spaceGroup, dimensionality int) error {
	_, err := s.db.Exec(
		`UPDATE materials
		 SET formula = COALESCE(NULLIF(formula, ''), ?),
		     space_group = COALESCE(NULLIF(space_group, 0), ?),
		     dimensionality = COALESCE(NULLIF(dimensionality, 0), ?)
		 WHERE id = ?`,
		formula, spaceGroup, dimensionality, id,
	)
	if err != nil {
		return fmt.Errorf("update material %s formula: %w", id, err)
	}
	return nil
}
