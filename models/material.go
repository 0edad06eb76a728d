package models

import "time"

// Material is a stable, deterministically-named chemistry input compound.
// It is created once on first use and never mutated or deleted afterward.
type Material struct {
	ID             string    `json:"id"`
	OriginalInput  string    `json:"original_input"` // first filename this material was derived from
	Formula        string    `json:"formula,omitempty"`
	SpaceGroup     int       `json:"space_group,omitempty"`
	Dimensionality int       `json:"dimensionality,omitempty"` // 0=molecule .. 3=bulk crystal
	CreatedAt      time.Time `json:"created_at"`
}
