package extract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCondenseBandPathContinuous(t *testing.T) {
	require.Equal(t, "X G L W G", CondenseBandPath([]string{"XG", "GL", "LW", "WG"}))
}

func TestCondenseBandPathWithDiscontinuity(t *testing.T) {
	require.Equal(t, "X G L|G W G", CondenseBandPath([]string{"XG", "GL", "GW", "WG"}))
}

func TestDecondenseBandPathRoundTrips(t *testing.T) {
	cases := [][]string{
		{"XG", "GL", "LW", "WG"},
		{"XG", "GL", "GW", "WG"},
	}
	for _, segments := range cases {
		condensed := CondenseBandPath(segments)
		require.Equal(t, segments, DecondenseBandPath(condensed))
	}
}

func TestUnitForPriority(t *testing.T) {
	require.Equal(t, "degrees", UnitFor("alpha_primitive"))
	require.Equal(t, "Angstrom^3", UnitFor("cell_volume"))
	require.Equal(t, "Angstrom", UnitFor("a_primitive"))
	require.Equal(t, "Hartree", UnitFor("total_energy"))
	require.Equal(t, "", UnitFor("space_group"))
}

func TestParseGeometryFirstWriterWins(t *testing.T) {
	output := "CELL VOLUME (A**3)   :      120.500000\nCELL VOLUME (A**3)   :      999.000000\n"
	g := ParseGeometry(output)
	require.NotNil(t, g.CellVolume)
	require.InDelta(t, 120.5, *g.CellVolume, 1e-9)
}

func TestToPropertiesSkipsMissingValues(t *testing.T) {
	g := ParseGeometry("CELL VOLUME (A**3): 50.0")
	props := ToProperties("calc1", g, false)
	require.Len(t, props, 1)
	require.Equal(t, "cell_volume", props[0].Name)
	require.Equal(t, "Angstrom^3", props[0].Unit)
}
