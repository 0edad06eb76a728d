// Package extract parses a completed calculation's solver output and
// auxiliary files into typed Property and InputSettings rows (spec.md
// §4.6), generalizing the teacher's regex- and line-scan-based structured
// text parsing (parsers/markdown.go) from markdown structure to CRYSTAL
// solver output structure.
package extract

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/lewis-group/crystalmace/models"
)

var (
	cellVolumeRe  = regexp.MustCompile(`(?i)CELL VOLUME\s*\(?A\*\*3\)?\s*[:=]?\s*([0-9.+-]+)`)
	totalEnergyRe = regexp.MustCompile(`(?i)TOTAL ENERGY\(DFT\)\(AU\)\s*\(?\)?\s*([0-9.+-]+E?[0-9+-]*)`)
	alphaRe       = regexp.MustCompile(`(?i)ALPHA\s*[:=]?\s*([0-9.+-]+)`)
	betaRe        = regexp.MustCompile(`(?i)BETA\s*[:=]?\s*([0-9.+-]+)`)
	gammaRe       = regexp.MustCompile(`(?i)GAMMA\s*[:=]?\s*([0-9.+-]+)`)
	aLengthRe     = regexp.MustCompile(`(?i)^\s*A\s*[:=]?\s*([0-9.+-]+)`)
	bLengthRe     = regexp.MustCompile(`(?i)^\s*B\s*[:=]?\s*([0-9.+-]+)`)
	cLengthRe     = regexp.MustCompile(`(?i)^\s*C\s*[:=]?\s*([0-9.+-]+)`)

	formulaRe        = regexp.MustCompile(`(?i)CHEMICAL FORMULA\s*[:=]?\s*([A-Za-z0-9]+)`)
	spaceGroupRe     = regexp.MustCompile(`(?i)SPACE GROUP\s*\(?N\.?\s*([0-9]+)\)?`)
	dimensionalityRe = regexp.MustCompile(`(?i)DIMENSIONALITY OF THE SYSTEM\s*([0-9])`)

	methodRe     = regexp.MustCompile(`(?i)^\s*(RHF|UHF|DFT)\b`)
	basisRe      = regexp.MustCompile(`(?i)BASIS SET\s*[:=]?\s*([A-Za-z0-9_-]+)`)
	functionalRe = regexp.MustCompile(`(?i)\(EXCHANGE\)\[CORRELATION\]FUNCTIONAL:\s*\(([A-Z0-9]+)\)`)
	shrinkGridRe = regexp.MustCompile(`(?i)SHRINK\.\s*FACT\.\(MONKH\.\)\s+([0-9]+)\s+([0-9]+)\s+([0-9]+)`)
	maxCycleRe   = regexp.MustCompile(`(?i)MAXCYCLE\s*[:=]?\s*([0-9]+)`)
	tolintegRe   = regexp.MustCompile(`(?i)TOLINTEG\s*[:=]?\s*([0-9 ]+)`)
	dispersionRe = regexp.MustCompile(`(?i)\bDFT-D3\b|\bGRIMME D3\b`)
)

// unitRules assigns a unit to a property name by priority: angle entries
// must be checked (and matched) before any length rule, and cell_volume
// must be checked before the single-letter length rules, so that a name
// like "alpha_primitive" gets "degrees" and "cell_volume" gets "Angstrom^3"
// rather than both falling through to the generic length unit (spec.md
// §4.6 "angles-before-lengths, volume-before-length").
var unitRules = []struct {
	match func(name string) bool
	unit  string
}{
	{func(n string) bool { return strings.Contains(n, "alpha") || strings.Contains(n, "beta") || strings.Contains(n, "gamma") }, "degrees"},
	{func(n string) bool { return strings.Contains(n, "volume") }, "Angstrom^3"},
	{func(n string) bool { return n == "a_primitive" || n == "b_primitive" || n == "c_primitive" }, "Angstrom"},
	{func(n string) bool { return strings.Contains(n, "energy") }, "Hartree"},
}

// UnitFor returns the unit assigned to property name under the priority-
// ordered rule set, or "" if no rule matches.
func UnitFor(name string) string {
	for _, r := range unitRules {
		if r.match(name) {
			return r.unit
		}
	}
	return ""
}

// Geometry holds the lattice properties extracted from a solver output.
type Geometry struct {
	CellVolume  *float64
	TotalEnergy *float64
	Alpha       *float64
	Beta        *float64
	Gamma       *float64
	A, B, C     *float64
}

// ParseGeometry scans solver output text line by line for lattice and
// energy quantities. Missing quantities are left nil.
func ParseGeometry(solverOutput string) Geometry {
	var g Geometry
	for _, line := range strings.Split(solverOutput, "\n") {
		assignMatch(cellVolumeRe, line, &g.CellVolume)
		assignMatch(totalEnergyRe, line, &g.TotalEnergy)
		assignMatch(alphaRe, line, &g.Alpha)
		assignMatch(betaRe, line, &g.Beta)
		assignMatch(gammaRe, line, &g.Gamma)
		assignMatch(aLengthRe, line, &g.A)
		assignMatch(bLengthRe, line, &g.B)
		assignMatch(cLengthRe, line, &g.C)
	}
	return g
}

func assignMatch(re *regexp.Regexp, line string, dst **float64) {
	if *dst != nil {
		return // first writer wins within a single parse pass too
	}
	m := re.FindStringSubmatch(line)
	if m == nil {
		return
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return
	}
	*dst = &v
}

// ToProperties converts a Geometry into Property rows for calculationID,
// tagging each with its category and unit.
func ToProperties(calculationID string, g Geometry, inherited bool) []models.Property {
	var out []models.Property
	add := func(name string, v *float64) {
		if v == nil {
			return
		}
		out = append(out, models.Property{
			CalculationID: calculationID,
			Name:          name,
			ScalarValue:   v,
			Unit:          UnitFor(name),
			Category:      categoryFor(name),
			Inherited:     inherited,
		})
	}
	add("cell_volume", g.CellVolume)
	add("total_energy", g.TotalEnergy)
	add("alpha_primitive", g.Alpha)
	add("beta_primitive", g.Beta)
	add("gamma_primitive", g.Gamma)
	add("a_primitive", g.A)
	add("b_primitive", g.B)
	add("c_primitive", g.C)
	return out
}

func categoryFor(name string) models.PropertyCategory {
	switch {
	case strings.Contains(name, "energy"):
		return models.CategoryEnergetics
	case strings.Contains(name, "volume"), strings.Contains(name, "primitive"):
		return models.CategoryGeometry
	default:
		return models.CategoryMeta
	}
}

// CondenseBandPath joins consecutive band-path segments that share an
// endpoint with a space, inserting "|" at each discontinuity, per
// spec.md §4.6 (e.g. [XG, GL, LW, WG] -> "X G L W G";
// [XG, GL, GW, WG] -> "X G L|G W G").
func CondenseBandPath(segments []string) string {
	if len(segments) == 0 {
		return ""
	}
	var b strings.Builder
	prevEnd := ""
	for i, seg := range segments {
		if len(seg) < 2 {
			continue
		}
		start, end := seg[:1], seg[1:]
		if i == 0 {
			b.WriteString(start)
			b.WriteString(" ")
			b.WriteString(end)
		} else if start == prevEnd {
			b.WriteString(" ")
			b.WriteString(end)
		} else {
			b.WriteString("|")
			b.WriteString(start)
			b.WriteString(" ")
			b.WriteString(end)
		}
		prevEnd = end
	}
	return b.String()
}

// DecondenseBandPath is the inverse of CondenseBandPath: it reconstructs
// the original per-segment token list from a condensed k-path label.
func DecondenseBandPath(label string) []string {
	if label == "" {
		return nil
	}
	var segments []string
	for _, run := range strings.Split(label, "|") {
		labels := strings.Fields(run)
		for i := 0; i+1 < len(labels); i++ {
			segments = append(segments, labels[i]+labels[i+1])
		}
	}
	return segments
}

// MaterialInfo holds the material-identity fields a solver output carries
// alongside its per-calculation properties (spec.md §3 Data Model).
type MaterialInfo struct {
	Formula        string
	SpaceGroup     int
	Dimensionality int
}

// ParseMaterialInfo scans solverOutput for the formula, space group, and
// dimensionality CRYSTAL prints once during geometry analysis. Any field
// it cannot find is left at its zero value, which callers treat as
// "not yet known" rather than overwriting a previously recorded value
// (store.SetMaterialFormula's first-writer-wins semantics).
func ParseMaterialInfo(solverOutput string) MaterialInfo {
	var info MaterialInfo
	for _, line := range strings.Split(solverOutput, "\n") {
		if info.Formula == "" {
			if m := formulaRe.FindStringSubmatch(line); m != nil {
				info.Formula = m[1]
			}
		}
		if info.SpaceGroup == 0 {
			if m := spaceGroupRe.FindStringSubmatch(line); m != nil {
				if v, err := strconv.Atoi(m[1]); err == nil {
					info.SpaceGroup = v
				}
			}
		}
		if info.Dimensionality == 0 {
			if m := dimensionalityRe.FindStringSubmatch(line); m != nil {
				if v, err := strconv.Atoi(m[1]); err == nil {
					info.Dimensionality = v
				}
			}
		}
	}
	return info
}

// ParseInputSettings scans a solver input file for the generation-time
// settings worth recording for provenance and recovery inheritance
// (spec.md §4.6 "input files, for settings provenance").
func ParseInputSettings(calculationID, inputText string) models.InputSettings {
	in := models.InputSettings{CalculationID: calculationID}
	for _, line := range strings.Split(inputText, "\n") {
		if in.Method == "" {
			if m := methodRe.FindStringSubmatch(line); m != nil {
				in.Method = strings.ToUpper(m[1])
			}
		}
		if in.Basis == "" {
			if m := basisRe.FindStringSubmatch(line); m != nil {
				in.Basis = m[1]
			}
		}
		if in.Functional == "" {
			if m := functionalRe.FindStringSubmatch(line); m != nil {
				in.Functional = m[1]
			}
		}
		if in.KPointGrid == "" {
			if m := shrinkGridRe.FindStringSubmatch(line); m != nil {
				in.KPointGrid = m[1] + " " + m[2] + " " + m[3]
			}
		}
		if in.MaxCycle == 0 {
			if m := maxCycleRe.FindStringSubmatch(line); m != nil {
				if v, err := strconv.Atoi(m[1]); err == nil {
					in.MaxCycle = v
				}
			}
		}
		if in.TolinteTolerance == "" {
			if m := tolintegRe.FindStringSubmatch(line); m != nil {
				in.TolinteTolerance = strings.TrimSpace(m[1])
			}
		}
		if !in.Dispersion && dispersionRe.MatchString(line) {
			in.Dispersion = true
		}
	}
	return in
}

// BandPoint is one sampled (k, E) pair along a band-structure data file's
// path, in reciprocal-Angstrom and eV.
type BandPoint struct {
	K float64
	E float64
}

var bandPointRe = regexp.MustCompile(`^\s*([0-9.+-]+)\s+([0-9.+-]+)\s*$`)

// ParseBandData parses a CRYSTAL BAND.DAT-style two-column (k, energy)
// listing for a single band into a sequence of BandPoint samples, the
// input EffectiveMass fits a parabola against (spec.md §4.6 "auxiliary
// band ... data files").
func ParseBandData(raw string) []BandPoint {
	var points []BandPoint
	for _, line := range strings.Split(raw, "\n") {
		m := bandPointRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		k, err1 := strconv.ParseFloat(m[1], 64)
		e, err2 := strconv.ParseFloat(m[2], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		points = append(points, BandPoint{K: k, E: e})
	}
	return points
}

// electronMassConstant is hbar^2 / (2 * m_e) expressed in eV*Angstrom^2,
// the conversion factor between a band's curvature (d^2E/dk^2) and the
// effective-mass ratio m*/m_e it implies.
const electronMassConstant = 3.81

// EffectiveMass fits a parabola through the three points nearest a band
// extremum (or, lacking an extremum, through the band's midpoint) and
// converts its curvature into an effective-mass ratio m*/m_e. It returns
// nil when fewer than three points are available or the fit curvature is
// zero (a perfectly flat band has no finite effective mass).
func EffectiveMass(points []BandPoint) *float64 {
	if len(points) < 3 {
		return nil
	}

	center := len(points) / 2
	for i := 1; i < len(points)-1; i++ {
		if (points[i].E >= points[i-1].E && points[i].E >= points[i+1].E) ||
			(points[i].E <= points[i-1].E && points[i].E <= points[i+1].E) {
			center = i
			break
		}
	}
	if center == 0 {
		center = 1
	}
	if center >= len(points)-1 {
		center = len(points) - 2
	}

	curvature := secondDerivative(points[center-1], points[center], points[center+1])
	if curvature == 0 {
		return nil
	}
	mass := electronMassConstant / curvature
	return &mass
}

// secondDerivative estimates d^2E/dk^2 at the middle of three unequally
// spaced samples via the standard three-point finite-difference formula.
func secondDerivative(a, b, c BandPoint) float64 {
	h1 := b.K - a.K
	h2 := c.K - b.K
	if h1 == 0 || h2 == 0 || h1+h2 == 0 {
		return 0
	}
	num := 2 * (h1*c.E - (h1+h2)*b.E + h2*a.E)
	den := h1 * h2 * (h1 + h2)
	if den == 0 {
		return 0
	}
	return math.Abs(num / den)
}
