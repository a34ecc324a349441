package paths

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeCompanyName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Apple Inc.", "Apple_Inc"},
		{"AT&T Inc.", "AT_T_Inc"},
		{"BARCLAYS PLC", "BARCLAYS_PLC"},
		{"Société Générale", "Soci_t_G_n_rale"},
		{"  spaced  out  ", "spaced_out"},
		{"___", "unknown_company"},
		{"", "unknown_company"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SafeCompanyName(tt.in), "input %q", tt.in)
	}
}

func TestFilingPath(t *testing.T) {
	r := NewResolver("/data/entities", "/data/taxonomies", "/data/temp")
	got := r.Filing("sec", "Apple Inc.", "10-K", "0000320193-24-000123")
	want := filepath.Join("/data/entities", "sec", "Apple_Inc", "filings", "10-K", "0000320193-24-000123")
	assert.Equal(t, want, got)
	assert.True(t, filepath.IsAbs(got))
}

func TestTaxonomyPath(t *testing.T) {
	r := NewResolver("/data/entities", "/data/taxonomies", "/data/temp")
	assert.Equal(t, filepath.Join("/data/taxonomies", "us-gaap", "2024"), r.Taxonomy("us-gaap", "2024"))
}

func TestTaxonomyCandidates(t *testing.T) {
	r := NewResolver("/e", "/t", "/tmp")
	got := r.TaxonomyCandidates("us-gaap", "2024")
	assert.Equal(t, []string{
		filepath.Join("/t", "us-gaap", "2024"),
		filepath.Join("/t", "us-gaap-2024"),
		filepath.Join("/t", "us-gaap"),
		filepath.Join("/t", "us-gaap_2024"),
	}, got)
}

func TestRelativeRootsBecomeAbsolute(t *testing.T) {
	r := NewResolver("entities", "taxonomies", "temp")
	assert.True(t, filepath.IsAbs(r.Filing("sec", "X", "10-K", "acc")))
	assert.True(t, filepath.IsAbs(r.Taxonomy("dei", "2024")))
}
