// Package textutil holds small string helpers shared by the model-facing
// packages.
package textutil

import "unicode/utf8"

// Truncate shortens s to at most n bytes plus an ellipsis. The cut backs off
// to a rune boundary so the result stays valid UTF-8.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 0 {
		return "..."
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
