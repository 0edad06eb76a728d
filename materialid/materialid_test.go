package materialid

import "testing"

func TestExtract(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"1_dia.d12", "mat_1_dia"},
		{"1_dia_opt.d12", "mat_1_dia"},
		{"1_dia_OPT2.out", "mat_1_dia"},
		{"mat_1_dia_BULK_P1_symm_1.d12", "mat_1_dia"},
		{"quartz_sp.d3", "quartz"},
		{"quartz_B3LYP-D3_extra_tag.out", "quartz"},
		{"weird name!!.d12", "weird_name"},
	}
	for _, c := range cases {
		got := Extract(c.in)
		if got != c.want {
			t.Errorf("Extract(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestExtractIdempotent(t *testing.T) {
	inputs := []string{
		"1_dia_opt.d12",
		"quartz_B3LYP-D3_extra_tag.out",
		"mat_1_dia_BULK_P1_symm_1.d12",
		"plain.d12",
	}
	for _, in := range inputs {
		once := Extract(in)
		twice := Extract(once)
		if once != twice {
			t.Errorf("Extract not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}
}
