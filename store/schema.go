package store

// schema creates the seven logical tables named in the control plane's
// external-interfaces contract, plus their required indexes, generalizing
// the teacher's single-table job_queue schema (services/job_queue.go) to
// the full relational model.
const schema = `
CREATE TABLE IF NOT EXISTS materials (
	id              TEXT PRIMARY KEY,
	original_input  TEXT NOT NULL,
	formula         TEXT,
	space_group     INTEGER,
	dimensionality  INTEGER,
	created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS workflow_plans (
	id                  TEXT PRIMARY KEY,
	input_type          TEXT NOT NULL,
	sequence_json       TEXT NOT NULL,
	step_configs_json   TEXT NOT NULL,
	execution_settings_json TEXT NOT NULL,
	created_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS workflow_instances (
	id                TEXT PRIMARY KEY,
	plan_id           TEXT NOT NULL REFERENCES workflow_plans(id),
	material_ids_json TEXT NOT NULL,
	status            TEXT NOT NULL,
	max_reached_json  TEXT NOT NULL DEFAULT '{}',
	created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS calculations (
	id                   TEXT PRIMARY KEY,
	material_id          TEXT NOT NULL REFERENCES materials(id),
	workflow_instance_id TEXT NOT NULL REFERENCES workflow_instances(id),
	step_index           INTEGER NOT NULL,
	calc_type            TEXT NOT NULL,
	status               TEXT NOT NULL,
	job_id               TEXT,
	attempt_counter      INTEGER NOT NULL DEFAULT 1,
	config_blob          TEXT NOT NULL DEFAULT '{}',
	parent_ids_json      TEXT NOT NULL DEFAULT '[]',
	error_kind           TEXT,
	last_recovery_action TEXT,
	output_path          TEXT,
	created_at           DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	submitted_at         DATETIME,
	running_at           DATETIME,
	finished_at          DATETIME
);

CREATE INDEX IF NOT EXISTS idx_calc_material ON calculations(material_id);
CREATE INDEX IF NOT EXISTS idx_calc_workflow_step ON calculations(workflow_instance_id, step_index);
CREATE INDEX IF NOT EXISTS idx_calc_status_created ON calculations(status, created_at);
CREATE INDEX IF NOT EXISTS idx_calc_job_id ON calculations(job_id);
CREATE UNIQUE INDEX IF NOT EXISTS uq_calc_identity
	ON calculations(material_id, workflow_instance_id, step_index, attempt_counter);

CREATE TABLE IF NOT EXISTS files (
	id             TEXT PRIMARY KEY,
	calculation_id TEXT NOT NULL REFERENCES calculations(id),
	path           TEXT NOT NULL,
	kind           TEXT NOT NULL,
	content_hash   TEXT NOT NULL,
	size_bytes     INTEGER NOT NULL,
	created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_file_hash_path ON files(content_hash, path);
CREATE INDEX IF NOT EXISTS idx_file_calc ON files(calculation_id);

CREATE TABLE IF NOT EXISTS properties (
	id             TEXT PRIMARY KEY,
	calculation_id TEXT NOT NULL REFERENCES calculations(id),
	name           TEXT NOT NULL,
	scalar_value   REAL,
	string_value   TEXT,
	unit           TEXT,
	category       TEXT NOT NULL,
	inherited      INTEGER NOT NULL DEFAULT 0,
	created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_property_calc ON properties(calculation_id);
CREATE UNIQUE INDEX IF NOT EXISTS uq_property_calc_name ON properties(calculation_id, name);

CREATE TABLE IF NOT EXISTS input_settings (
	calculation_id     TEXT PRIMARY KEY REFERENCES calculations(id),
	method             TEXT,
	basis              TEXT,
	tolerances         TEXT,
	k_point_grid       TEXT,
	functional         TEXT,
	dispersion         INTEGER NOT NULL DEFAULT 0,
	optimization_flags TEXT,
	k_path_label       TEXT,
	max_cycle          INTEGER
);

CREATE TABLE IF NOT EXISTS workflow_states (
	workflow_instance_id TEXT NOT NULL,
	material_id          TEXT NOT NULL,
	last_completed_type  TEXT,
	updated_at           DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (workflow_instance_id, material_id)
);

CREATE TABLE IF NOT EXISTS advisory_locks (
	name       TEXT PRIMARY KEY,
	holder     TEXT NOT NULL,
	acquired_at DATETIME NOT NULL
);
`
