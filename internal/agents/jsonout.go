package agents

import (
	"strings"
)

// stripFences removes a surrounding markdown code fence from a model
// response. Models wrap JSON in ```json fences no matter how firmly the
// prompt forbids it.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// extractJSON returns the outermost open..close slice of s, fences
// stripped. open/close are "{"/"}" for objects, "["/"]" for arrays.
// Empty string when no such slice exists.
func extractJSON(s, open, close string) string {
	s = stripFences(s)
	start := strings.Index(s, open)
	end := strings.LastIndex(s, close)
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}
