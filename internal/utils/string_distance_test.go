package utils

import "testing"

func TestComputeDistance(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"bank", "", 4},
		{"", "bank", 4},
		{"bank", "bank", 0},
		{"BANK", "bank", 0},
		{"kitten", "sitting", 3},
		{"CHASE", "CHASM", 1},
		{"MARCUS", "MARCU", 1},
	}
	for _, tc := range cases {
		if got := ComputeDistance(tc.a, tc.b); got != tc.want {
			t.Errorf("ComputeDistance(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestSimilarity(t *testing.T) {
	if got := Similarity("", ""); got != 1 {
		t.Errorf("Similarity of empty strings = %v, want 1", got)
	}
	if got := Similarity("BANK", "BANK"); got != 1 {
		t.Errorf("Similarity of identical strings = %v, want 1", got)
	}
	if got := Similarity("ABCD", "WXYZ"); got != 0 {
		t.Errorf("Similarity of disjoint strings = %v, want 0", got)
	}
	got := Similarity("MARCUS", "MARCU")
	want := 1 - 1.0/6
	if got < want-1e-9 || got > want+1e-9 {
		t.Errorf("Similarity(MARCUS, MARCU) = %v, want %v", got, want)
	}
}

func TestStripSpaces(t *testing.T) {
	if got := StripSpaces("  GOLDMAN   SACHS \t BANK "); got != "GOLDMANSACHSBANK" {
		t.Errorf("StripSpaces = %q", got)
	}
	if got := StripSpaces(""); got != "" {
		t.Errorf("StripSpaces of empty = %q", got)
	}
}
