package sym

import (
	"testing"
	"unicode/utf8"
)

func TestGlyphsAreSingleRunes(t *testing.T) {
	glyphs := []string{Alert, Clock, Search, Send, Flow, DB, Net, RunOpen, RunClose}
	for _, g := range glyphs {
		if utf8.RuneCountInString(g) != 1 {
			t.Errorf("glyph %q should be a single rune, got %d", g, utf8.RuneCountInString(g))
		}
	}
}

func TestNameCoversEverySubsystemGlyph(t *testing.T) {
	named := []string{Alert, Clock, Search, Send, Flow, DB, Net}
	for _, g := range named {
		if Name(g) == "" {
			t.Errorf("Name(%q) returned empty, expected a subsystem name", g)
		}
	}
}

func TestNameUnknownGlyph(t *testing.T) {
	if got := Name("?"); got != "" {
		t.Errorf("Name(%q) = %q, expected empty for unknown glyph", "?", got)
	}
}
