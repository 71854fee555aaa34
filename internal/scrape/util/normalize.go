package util

import "strings"

// CleanText collapses whitespace runs (including NBSP) into single spaces.
func CleanText(s string) string {
	s = strings.ReplaceAll(s, " ", " ")
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimSpace(s)
}

// FirstNonEmpty returns the first argument that is not blank after cleaning.
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = CleanText(v); v != "" {
			return v
		}
	}
	return ""
}
