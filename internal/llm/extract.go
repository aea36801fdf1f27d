package llm

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const snippetLimit = 500

var fencePattern = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)```")

// ExtractJSON pulls the JSON object out of a model reply. It tries, in order,
// an already clean object, a fenced code block whose body is an object, and
// the span from the first '{' to the last '}'. Anything else is returned trimmed.
func ExtractJSON(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		return trimmed
	}
	if m := fencePattern.FindStringSubmatch(raw); m != nil {
		body := strings.TrimSpace(m[1])
		if strings.HasPrefix(body, "{") {
			return body
		}
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start != -1 && end > start {
		return raw[start : end+1]
	}
	return trimmed
}

// Snippet truncates raw model output for logs and audit rows.
func Snippet(raw string) string {
	if utf8.RuneCountInString(raw) <= snippetLimit {
		return raw
	}
	runes := []rune(raw)
	return string(runes[:snippetLimit]) + "..."
}
