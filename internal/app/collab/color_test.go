package collab

import (
	"testing"

	"notesync/internal/pkg/ident"
)

func TestColorForMatchesLegacyService(t *testing.T) {
	// Values produced by the legacy service for the same ids.
	cases := []struct {
		id   ident.ID
		want Color
	}{
		{"1", "#85C1E9"},
		{"2", "#FF6B6B"},
		{"42", "#45B7D1"},
		{"", "#FF6B6B"},
	}

	for _, tc := range cases {
		if got := ColorFor(tc.id); got != tc.want {
			t.Errorf("ColorFor(%q) = %s, want %s", tc.id, got, tc.want)
		}
	}
}

func TestColorForIsDeterministicAndInPalette(t *testing.T) {
	inPalette := make(map[Color]bool, len(palette))
	for _, c := range palette {
		inPalette[c] = true
	}

	ids := []ident.ID{
		"alice", "bob", "7f9c2ba4-e88f-4a1d-9e2b-0c5a1b3d9e11",
		"ユーザー", "😀-emoji", "a-very-long-identifier-that-overflows-thirty-two-bit-arithmetic-many-times",
	}

	for _, id := range ids {
		first := ColorFor(id)
		if !inPalette[first] {
			t.Errorf("ColorFor(%q) = %s, not in palette", id, first)
		}
		for range 3 {
			if again := ColorFor(id); again != first {
				t.Errorf("ColorFor(%q) changed from %s to %s", id, first, again)
			}
		}
	}
}

func TestColorForNumericAndStringIDsAgree(t *testing.T) {
	var fromNumber, fromString ident.ID
	if err := fromNumber.UnmarshalJSON([]byte(`12`)); err != nil {
		t.Fatal(err)
	}
	if err := fromString.UnmarshalJSON([]byte(`"12"`)); err != nil {
		t.Fatal(err)
	}

	if ColorFor(fromNumber) != ColorFor(fromString) {
		t.Errorf("numeric and string forms of the same id got different colors")
	}
}
