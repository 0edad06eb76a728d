// Package classify scans a completed batch job's solver output text for
// the terminal patterns spec.md §4.4 names, assigning each job an outcome
// status and, for failures, an error kind the recovery layer consumes.
// Grounded on the line-scan pattern matching in the teacher's
// handlers/documents.go structure-analysis pass, generalized from
// counting markdown headings to matching fixed solver-output substrings.
package classify

import (
	"strings"

	"github.com/lewis-group/crystalmace/models"
)

// Outcome is the result of classifying one solver output.
type Outcome struct {
	Status models.CalculationStatus // StatusCompleted or StatusFailed
	Kind   models.ErrorKind         // zero value unless Status is StatusFailed
}

type pattern struct {
	substr string
	kind   models.ErrorKind
}

// successPatterns: any match means the calculation completed.
var successPatterns = []string{
	"ENDED - TOTAL CPU TIME",
	"FINAL OPTIMIZED GEOMETRY",
}

// failurePatterns are checked in order; the first match wins.
var failurePatterns = []pattern{
	{"TOO MANY CYCLES IN SCF", models.ErrSCFNotConverged},
	{"INSUFFICIENT MEMORY", models.ErrMemoryExhausted},
	{"ALLOCATION ERROR", models.ErrMemoryExhausted},
	{"SHRINK FACTORS LESS THAN", models.ErrShrinkTooSmall},
	{"SMALL INTERATOMIC DISTANCE", models.ErrGeometryCollision},
	{"ATOMS TOO CLOSE", models.ErrGeometryCollision},
	{"TIME LIMIT", models.ErrWalltimeExceeded},
}

// Classify scans solverOutput and returns the outcome. A solver output
// with no recognized terminal pattern at all — neither success nor a
// known failure — is classified failed/unknown, satisfying data-model
// invariant 4 ("a completed calculation's output must include a terminal
// success pattern or the row must be failed").
func Classify(solverOutput string) Outcome {
	for _, p := range successPatterns {
		if strings.Contains(solverOutput, p) {
			return Outcome{Status: models.StatusCompleted}
		}
	}
	for _, p := range failurePatterns {
		if strings.Contains(solverOutput, p.substr) {
			return Outcome{Status: models.StatusFailed, Kind: p.kind}
		}
	}
	return Outcome{Status: models.StatusFailed, Kind: models.ErrUnknown}
}
