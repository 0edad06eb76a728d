// Package recovery maps a classified error kind to a remediation action
// and a bounded retry budget (spec.md §4.7), loading the rule table from
// an external YAML document merged over built-in defaults. Grounded on
// jorge-barreto-orc's internal/config YAML-struct-tag style for the rule
// document shape.
package recovery

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lewis-group/crystalmace/models"
)

// Rule is one error-kind's remediation entry.
type Rule struct {
	Action      models.RecoveryAction  `yaml:"action"`
	MaxAttempts int                    `yaml:"max_attempts"`
	Params      map[string]interface{} `yaml:"params,omitempty"`
}

// Table maps error kind to its recovery rule.
type Table map[models.ErrorKind]Rule

// Defaults is the built-in recovery table from spec.md §4.7, used when no
// external rule file is configured or when the file omits a kind.
func Defaults() Table {
	return Table{
		models.ErrSCFNotConverged:     {Action: models.ActionBumpMaxCycle, MaxAttempts: 3},
		models.ErrMemoryExhausted:     {Action: models.ActionEscalateMemory, MaxAttempts: 2},
		models.ErrShrinkTooSmall:      {Action: models.ActionShrinkKMesh, MaxAttempts: 2},
		models.ErrWalltimeExceeded:    {Action: models.ActionEscalateWalltime, MaxAttempts: 2},
		models.ErrGeometryCollision:   {Action: models.ActionTerminal, MaxAttempts: 0},
		models.ErrInputGenerationFail: {Action: models.ActionRegenerateInput, MaxAttempts: 1},
		models.ErrDiskSpace:           {Action: models.ActionTerminal, MaxAttempts: 0},
		models.ErrUnknown:             {Action: models.ActionTerminal, MaxAttempts: 0},
	}
}

// document is the on-disk YAML shape: a flat map of error kind to rule.
type document map[string]Rule

// Load reads the rule file at path, if non-empty, and merges it over
// Defaults on a per-kind basis: a kind present in the file replaces the
// default entirely, a kind absent from the file keeps its default
// (resolves spec.md §6's "merged over built-in defaults" file-wins
// per-kind, see DESIGN.md). An empty path returns Defaults() unchanged.
func Load(path string) (Table, error) {
	table := Defaults()
	if path == "" {
		return table, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read recovery rule file %s: %w", path, err)
	}

	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse recovery rule file %s: %w", path, err)
	}

	for kindStr, rule := range doc {
		kind := models.ErrorKind(kindStr)
		if !kind.Valid() {
			return nil, fmt.Errorf("recovery rule file %s: unknown error kind %q", path, kindStr)
		}
		if !validAction(rule.Action) {
			return nil, fmt.Errorf("recovery rule file %s: unknown action %q for kind %q", path, rule.Action, kindStr)
		}
		table[kind] = rule
	}
	return table, nil
}

func validAction(a models.RecoveryAction) bool {
	switch a {
	case models.ActionBumpMaxCycle, models.ActionEscalateMemory, models.ActionShrinkKMesh,
		models.ActionEscalateWalltime, models.ActionRegenerateInput, models.ActionTerminal:
		return true
	}
	return false
}

const (
	defaultMaxCycle   = 200
	maxCycleIncrement = 100
	minimumSafeShrink = 4
)

// memoryTiers and walltimeTiers are the escalation ladders a retry climbs
// one rung at a time; a predecessor already at or past the top tier stays
// there (spec.md §4.7 "next memory/walltime tier").
var (
	memoryTiers   = []int{64, 128, 256, 512}
	walltimeTiers = []string{"24:00:00", "48:00:00", "72:00:00", "168:00:00"}
)

var shrinkFailureRe = regexp.MustCompile(`(?i)SHRINK FACTORS LESS THAN\s+(\d+)`)

// Escalate computes the per-kind parameter overrides a retry needs on top
// of its predecessor's config blob: a larger MAXCYCLE for SCF
// non-convergence, the next memory tier for memory exhaustion, a safe
// k-mesh recovered from the failure text for an undersized shrink factor,
// and the next walltime tier for a walltime kill (spec.md §8 Testable
// Property 8). Kinds with no numeric remediation (geometry collision,
// input generation failure, disk space, unknown) return an empty map.
func Escalate(kind models.ErrorKind, predecessorBlob, failureText string) (map[string]interface{}, error) {
	predecessor := map[string]interface{}{}
	if strings.TrimSpace(predecessorBlob) != "" {
		if err := json.Unmarshal([]byte(predecessorBlob), &predecessor); err != nil {
			return nil, fmt.Errorf("unmarshal predecessor config blob: %w", err)
		}
	}

	switch kind {
	case models.ErrSCFNotConverged:
		return map[string]interface{}{"max_cycle": bumpMaxCycle(predecessor)}, nil
	case models.ErrMemoryExhausted:
		return map[string]interface{}{"memory_gb": nextIntTier(memoryTiers, intField(predecessor, "memory_gb"))}, nil
	case models.ErrShrinkTooSmall:
		return map[string]interface{}{"k_mesh": safeKMesh(failureText)}, nil
	case models.ErrWalltimeExceeded:
		return map[string]interface{}{"walltime": nextStringTier(walltimeTiers, stringField(predecessor, "walltime"))}, nil
	default:
		return map[string]interface{}{}, nil
	}
}

// bumpMaxCycle raises the predecessor's max_cycle by maxCycleIncrement,
// starting from defaultMaxCycle when the predecessor never set one.
func bumpMaxCycle(predecessor map[string]interface{}) int {
	current := intField(predecessor, "max_cycle")
	if current <= 0 {
		current = defaultMaxCycle
	}
	return current + maxCycleIncrement
}

// safeKMesh recovers the minimum shrink factor CRYSTAL reported as too
// small from the failure text and returns a uniform k-mesh at least that
// large (and at least minimumSafeShrink, when the text carries no
// explicit threshold).
func safeKMesh(failureText string) string {
	safe := minimumSafeShrink
	if m := shrinkFailureRe.FindStringSubmatch(failureText); m != nil {
		if required, err := strconv.Atoi(m[1]); err == nil && required > safe {
			safe = required
		}
	}
	return fmt.Sprintf("%d %d %d", safe, safe, safe)
}

// nextIntTier returns the smallest tier strictly greater than current, or
// the top tier if current has already reached or passed it.
func nextIntTier(tiers []int, current int) int {
	for _, tier := range tiers {
		if tier > current {
			return tier
		}
	}
	return tiers[len(tiers)-1]
}

// nextStringTier advances one position past current's index in tiers (by
// value match), or returns the first tier if current is unrecognized, or
// the last tier if current is already there.
func nextStringTier(tiers []string, current string) string {
	for i, tier := range tiers {
		if tier == current {
			if i+1 < len(tiers) {
				return tiers[i+1]
			}
			return tiers[i]
		}
	}
	return tiers[0]
}

func intField(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// Decide looks up the rule for kind and reports whether attemptCounter
// (the calculation's current attempt number before this retry) has
// exhausted the per-kind budget, in which case the caller must move the
// calculation to terminally_failed instead of retrying.
func (t Table) Decide(kind models.ErrorKind, attemptCounter int) (rule Rule, exhausted bool) {
	rule, ok := t[kind]
	if !ok {
		rule = Rule{Action: models.ActionTerminal, MaxAttempts: 0}
	}
	return rule, attemptCounter >= rule.MaxAttempts
}
