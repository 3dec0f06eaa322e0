package restore

import (
	"strings"
	"testing"
)

func TestSanitizeDatabaseName(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "clean name passes through",
			raw:  "GWSCANNER",
			want: "GWSCANNER",
		},
		{
			name: "invalid characters become underscores",
			raw:  "My-DB name (nightly)",
			want: "My_DB_name_nightly",
		},
		{
			name: "underscore runs collapse",
			raw:  "a__b____c",
			want: "a_b_c",
		},
		{
			name: "leading and trailing underscores trimmed",
			raw:  "__edge__",
			want: "edge",
		},
		{
			name: "symbols only falls back to default",
			raw:  "!!!***",
			want: DefaultDatabaseName,
		},
		{
			name: "empty falls back to default",
			raw:  "",
			want: DefaultDatabaseName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeDatabaseName(tt.raw); got != tt.want {
				t.Errorf("SanitizeDatabaseName(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestSanitizeDatabaseNameIsIdempotent(t *testing.T) {
	inputs := []string{
		"GWSCANNER",
		"My-DB name (nightly)",
		"!!!",
		strings.Repeat("LongToken", 30),
		strings.Repeat("A", 50) + "_backup_" + strings.Repeat("B", 50) + "_2026_08",
	}

	for _, raw := range inputs {
		once := SanitizeDatabaseName(raw)
		twice := SanitizeDatabaseName(once)
		if once != twice {
			t.Errorf("not idempotent for %q: first %q, second %q", raw, once, twice)
		}
	}
}

func TestSanitizeDatabaseNameLengthBound(t *testing.T) {
	long := strings.Repeat("VeryLongTokenName_", 20) + "20260830"

	got := SanitizeDatabaseName(long)
	if len(got) > 128 {
		t.Errorf("len = %d, want <= 128", len(got))
	}
}

func TestShortenNameKeepsMeaningfulAndDateTokens(t *testing.T) {
	a := strings.Repeat("A", 30)
	b := strings.Repeat("B", 30)
	c := strings.Repeat("C", 30)
	d := strings.Repeat("D", 30)
	raw := strings.Join([]string{a, "backup", b, "temp", c, d, "2026", "30"}, "_")

	got := SanitizeDatabaseName(raw)
	if len(got) > 128 {
		t.Fatalf("len = %d, want <= 128", len(got))
	}
	if !strings.HasPrefix(got, a) {
		t.Errorf("first meaningful token dropped: %q", got)
	}
	if strings.Contains(got, "backup") || strings.Contains(got, "temp") {
		t.Errorf("skip-list tokens survived: %q", got)
	}
	if !strings.Contains(got, "2026") {
		t.Errorf("date token dropped: %q", got)
	}
	if strings.Contains(got, d) {
		t.Errorf("fourth meaningful token should be dropped: %q", got)
	}
}

func TestShortenNameDistinguishesDistinctInputs(t *testing.T) {
	base := strings.Repeat("SharedPrefix", 15)
	first := SanitizeDatabaseName(base + "_variantone_" + strings.Repeat("X", 40))
	second := SanitizeDatabaseName(base + "_varianttwo_" + strings.Repeat("X", 40))

	if first == second {
		t.Errorf("distinct long inputs collapsed to the same name %q", first)
	}
}

func TestIsDateToken(t *testing.T) {
	tests := []struct {
		tok  string
		want bool
	}{
		{"20260830", true},
		{"010203", true},
		{"2026", true},
		{"1999", true},
		{"30", true},
		{"3001", false}, // four digits but not a plausible year
		{"123", false},
		{"2026a", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := isDateToken(tt.tok); got != tt.want {
			t.Errorf("isDateToken(%q) = %v, want %v", tt.tok, got, tt.want)
		}
	}
}

func TestDatabaseNameFromLogical(t *testing.T) {
	tests := []struct {
		logical string
		want    string
	}{
		{"GWSCANNER_Data", "GWSCANNER"},
		{"GWSCANNER_Log", "GWSCANNER"},
		{"nightly_data", "nightly"},
		{"PlainName", "PlainName"},
	}

	for _, tt := range tests {
		if got := DatabaseNameFromLogical(tt.logical); got != tt.want {
			t.Errorf("DatabaseNameFromLogical(%q) = %q, want %q", tt.logical, got, tt.want)
		}
	}
}
