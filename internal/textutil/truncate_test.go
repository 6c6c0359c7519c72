package textutil

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly", 7, "exactly"},
		{"abcdef", 3, "abc..."},
		{"abc", 0, "..."},
		// "ế" is three bytes; a cut inside it backs off to before the rune.
		{"Tiếng Việt", 3, "Ti..."},
		{"Tiếng Việt", 4, "Ti..."},
		{"Tiếng Việt", 5, "Tiế..."},
	}
	for _, tc := range cases {
		if got := Truncate(tc.in, tc.n); got != tc.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

func TestTruncate_AlwaysValidUTF8(t *testing.T) {
	t.Parallel()

	s := strings.Repeat("Truyện Kiều 📚 ", 20)
	for n := range len(s) + 2 {
		if got := Truncate(s, n); !utf8.ValidString(got) {
			t.Fatalf("Truncate at %d produced invalid UTF-8: %q", n, got)
		}
	}
}
