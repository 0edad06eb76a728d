// Package materialid implements the single deterministic function that
// maps any filename (D12, D3, solver output) to a material identifier,
// generalizing the teacher's path-sanitization helpers (utils/path.go)
// from "make a request path safe" to "make a stable directory/row key."
package materialid

import (
	"path/filepath"
	"regexp"
	"strings"
)

// calcSuffixRe matches the calculation-suffix tokens stripped in the first pass,
// including their numeric variants (OPT2, SP3, ...).
var calcSuffixRe = regexp.MustCompile(`(?i)_(opt|sp|freq|band|doss|transport|charge)\d*$`)

// technicalAnchorRe matches the first "technical decoration" anchor token;
// everything from the anchor onward is cut. Anchors are matched
// case-insensitively and may be followed by arbitrary further decoration.
var technicalAnchorRe = regexp.MustCompile(`(?i)_(BULK|CRYSTAL|SYMM|B3LYP-D3|PBE0|HSE06|SLAB|POLYMER|MOLECULE)(_.*)?$`)

var unsafeCharRe = regexp.MustCompile(`[^A-Za-z0-9_]+`)

// Extract derives the material identifier from any filename belonging to
// that material's workflow (D12, D3, or solver output). It is idempotent:
// Extract(Extract(f)) == Extract(f), satisfying invariant 3 and testable
// property 4 of the control-plane spec.
func Extract(filename string) string {
	base := filepath.Base(filename)
	base = strings.TrimSuffix(base, filepath.Ext(base))

	// Step 1: strip a single trailing calculation-suffix token, if present.
	base = calcSuffixRe.ReplaceAllString(base, "")

	// Step 2: collapse any subsequent technical decoration by cutting at
	// the first anchor token found anywhere in the remainder.
	if loc := technicalAnchorRe.FindStringIndex(base); loc != nil {
		base = base[:loc[0]]
	}

	// Step 3: make the result filesystem-safe.
	base = unsafeCharRe.ReplaceAllString(base, "_")
	base = strings.Trim(base, "_")
	if base == "" {
		base = "material"
	}
	if base[0] >= '0' && base[0] <= '9' {
		base = "mat_" + base
	}

	return base
}
