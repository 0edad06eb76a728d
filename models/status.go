package models

// CalculationStatus is the linear status a Calculation row moves through.
type CalculationStatus string

const (
	StatusPending          CalculationStatus = "pending"
	StatusSubmitted        CalculationStatus = "submitted"
	StatusRunning          CalculationStatus = "running"
	StatusCompleted        CalculationStatus = "completed"
	StatusFailed           CalculationStatus = "failed"
	StatusTerminallyFailed CalculationStatus = "terminally_failed"
	StatusCancelled        CalculationStatus = "cancelled"
)

// Valid reports whether s is one of the known calculation statuses.
func (s CalculationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSubmitted, StatusRunning, StatusCompleted,
		StatusFailed, StatusTerminallyFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is expected from s.
func (s CalculationStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusTerminallyFailed, StatusCancelled:
		return true
	}
	return false
}

// WorkflowStatus is the status of a WorkflowInstance.
type WorkflowStatus string

const (
	WorkflowPlanned   WorkflowStatus = "planned"
	WorkflowActive    WorkflowStatus = "active"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
	WorkflowCancelled WorkflowStatus = "cancelled"
)

func (s WorkflowStatus) Valid() bool {
	switch s {
	case WorkflowPlanned, WorkflowActive, WorkflowCompleted, WorkflowFailed, WorkflowCancelled:
		return true
	}
	return false
}

// ErrorKind classifies why a calculation ended in "failed".
type ErrorKind string

const (
	ErrSCFNotConverged      ErrorKind = "scf_not_converged"
	ErrMemoryExhausted      ErrorKind = "memory_exhausted"
	ErrShrinkTooSmall       ErrorKind = "shrink_too_small"
	ErrGeometryCollision    ErrorKind = "geometry_collision"
	ErrWalltimeExceeded     ErrorKind = "walltime_exceeded"
	ErrInputGenerationFail  ErrorKind = "input_generation_failed"
	ErrDiskSpace            ErrorKind = "disk_space"
	ErrUnknown              ErrorKind = "unknown"
)

func (k ErrorKind) Valid() bool {
	switch k {
	case ErrSCFNotConverged, ErrMemoryExhausted, ErrShrinkTooSmall,
		ErrGeometryCollision, ErrWalltimeExceeded, ErrInputGenerationFail,
		ErrDiskSpace, ErrUnknown:
		return true
	}
	return false
}

// FileKind classifies a FileArtifact.
type FileKind string

const (
	FileInput             FileKind = "input"
	FileWavefunction       FileKind = "wavefunction"
	FilePropertiesInput    FileKind = "properties_input"
	FileSolverOutput       FileKind = "solver_output"
	FileAuxiliaryData      FileKind = "auxiliary_data"
	FileLog                FileKind = "log"
)

// PropertyCategory tags the broad grouping of an extracted Property.
type PropertyCategory string

const (
	CategoryGeometry   PropertyCategory = "geometry"
	CategoryElectronic PropertyCategory = "electronic"
	CategoryEnergetics PropertyCategory = "energetics"
	CategoryTransport  PropertyCategory = "transport"
	CategoryMeta       PropertyCategory = "meta"
)

// RecoveryAction names the remediation attempted for a classified error kind.
type RecoveryAction string

const (
	ActionBumpMaxCycle     RecoveryAction = "bump_maxcycle"
	ActionEscalateMemory   RecoveryAction = "escalate_memory_tier"
	ActionShrinkKMesh      RecoveryAction = "replace_kmesh"
	ActionEscalateWalltime RecoveryAction = "escalate_walltime_tier"
	ActionRegenerateInput  RecoveryAction = "regenerate_input"
	ActionTerminal         RecoveryAction = "terminal"
)
