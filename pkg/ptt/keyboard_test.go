package ptt

import "testing"

func TestParseCombo(t *testing.T) {
	cases := map[string][]string{
		"alt+space":       {"alt", "space"},
		"Ctrl+Shift+Space": {"ctrl", "shift", "space"},
		"":                nil,
		"  ":              nil,
	}
	for in, want := range cases {
		got := parseCombo(in)
		if len(got) != len(want) {
			t.Fatalf("parseCombo(%q) = %v, want %v", in, got, want)
		}
		for i := range got {
			if got[i] != want[i] {
				t.Fatalf("parseCombo(%q)[%d] = %q, want %q", in, i, got[i], want[i])
			}
		}
	}
}

func TestNewHandlerRejectsEmptyCombo(t *testing.T) {
	if _, err := NewHandler("", "esc", 10, 0); err == nil {
		t.Fatal("expected error for empty combo")
	}
}
