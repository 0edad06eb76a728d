package store

import (
	"database/sql"
	"fmt"

	"github.com/lewis-group/crystalmace/models"
)

// RecordProperty inserts an extracted property for a calculation.
// First-writer-wins: if a property of the same name already exists for
// the calculation (e.g. re-running extraction after a crash), the
// existing row is kept untouched (spec §4.6, testable property 3).
func (s *Store) RecordProperty(p models.Property) (written bool, err error) {
	res, err := s.db.Exec(
		`INSERT INTO properties (id, calculation_id, name, scalar_value, string_value, unit, category, inherited, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(calculation_id, name) DO NOTHING`,
		p.ID, p.CalculationID, p.Name, p.ScalarValue, p.StringValue, p.Unit, string(p.Category), boolToInt(p.Inherited),
	)
	if err != nil {
		return false, fmt.Errorf("record property %s/%s: %w", p.CalculationID, p.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListProperties returns every property recorded for a calculation.
func (s *Store) ListProperties(calculationID string) ([]models.Property, error) {
	rows, err := s.db.Query(
		`SELECT id, calculation_id, name, scalar_value, string_value, unit, category, inherited, created_at
		 FROM properties WHERE calculation_id = ? ORDER BY name`,
		calculationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list properties for %s: %w", calculationID, err)
	}
	defer rows.Close()

	var out []models.Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListPropertiesForMaterial aggregates properties across every calculation
// belonging to a material, the view the status/report surfaces present.
func (s *Store) ListPropertiesForMaterial(materialID string) ([]models.Property, error) {
	rows, err := s.db.Query(
		`SELECT p.id, p.calculation_id, p.name, p.scalar_value, p.string_value, p.unit, p.category, p.inherited, p.created_at
		 FROM properties p
		 JOIN calculations c ON c.id = p.calculation_id
		 WHERE c.material_id = ?
		 ORDER BY c.step_index, p.name`,
		materialID,
	)
	if err != nil {
		return nil, fmt.Errorf("list properties for material %s: %w", materialID, err)
	}
	defer rows.Close()

	var out []models.Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProperty(row scanner) (models.Property, error) {
	var p models.Property
	var scalar sql.NullFloat64
	var stringValue, unit sql.NullString
	var category string
	var inherited int

	err := row.Scan(&p.ID, &p.CalculationID, &p.Name, &scalar, &stringValue, &unit, &category, &inherited, &p.CreatedAt)
	if err != nil {
		return models.Property{}, err
	}
	if scalar.Valid {
		v := scalar.Float64
		p.ScalarValue = &v
	}
	p.StringValue = stringValue.String
	p.Unit = unit.String
	p.Category = models.PropertyCategory(category)
	p.Inherited = inherited != 0
	return p, nil
}

// UpsertInputSettings records the solver input configuration for a
// calculation, overwriting any prior row for the same calculation (a
// calculation's own input settings are fixed at input-generation time and
// only ever (re)written by the same step, never by a successor).
func (s *Store) UpsertInputSettings(in models.InputSettings) error {
	_, err := s.db.Exec(
		`INSERT INTO input_settings
			(calculation_id, method, basis, tolerances, k_point_grid, functional, dispersion, optimization_flags, k_path_label, max_cycle)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(calculation_id) DO UPDATE SET
			method = excluded.method,
			basis = excluded.basis,
			tolerances = excluded.tolerances,
			k_point_grid = excluded.k_point_grid,
			functional = excluded.functional,
			dispersion = excluded.dispersion,
			optimization_flags = excluded.optimization_flags,
			k_path_label = excluded.k_path_label,
			max_cycle = excluded.max_cycle`,
		in.CalculationID, in.Method, in.Basis, in.TolinteTolerance, in.KPointGrid, in.Functional,
		boolToInt(in.Dispersion), in.OptimizationFlags, in.KPathLabel, in.MaxCycle,
	)
	if err != nil {
		return fmt.Errorf("upsert input settings for %s: %w", in.CalculationID, err)
	}
	return nil
}

// GetInputSettings fetches the input configuration recorded for a
// calculation, used by inheritance logic when a successor step needs its
// parent's k-point grid or functional.
func (s *Store) GetInputSettings(calculationID string) (models.InputSettings, error) {
	var in models.InputSettings
	var dispersion int
	row := s.db.QueryRow(
		`SELECT calculation_id, method, basis, tolerances, k_point_grid, functional, dispersion, optimization_flags, k_path_label, max_cycle
		 FROM input_settings WHERE calculation_id = ?`,
		calculationID,
	)
	err := row.Scan(&in.CalculationID, &in.Method, &in.Basis, &in.TolinteTolerance, &in.KPointGrid,
		&in.Functional, &dispersion, &in.OptimizationFlags, &in.KPathLabel, &in.MaxCycle)
	if err != nil {
		return models.InputSettings{}, err
	}
	in.Dispersion = dispersion != 0
	return in, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
