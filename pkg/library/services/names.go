package services

import (
	"net/url"
	"path"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// CleanName turns a title into a name usable as a directory component.
func CleanName(s string) string {
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, "+", "_")
	s = strings.ReplaceAll(s, ":", " -")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case strings.ContainsRune(" _.-[]", r):
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())
	return strings.TrimSpace(strings.TrimRight(out, "."))
}

// FileNameFromURL returns the last path segment with the query removed.
func FileNameFromURL(raw string) string {
	if raw == "" {
		return ""
	}
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		name := path.Base(u.Path)
		if name == "/" || name == "." {
			return ""
		}
		return name
	}
	raw, _, _ = strings.Cut(raw, "?")
	return path.Base(raw)
}

// StripQuery drops the query string and fragment of a URL.
func StripQuery(raw string) string {
	raw, _, _ = strings.Cut(raw, "#")
	raw, _, _ = strings.Cut(raw, "?")
	return raw
}

// ExtOf returns the lower-cased extension without the dot.
func ExtOf(fileName string) string {
	ext := path.Ext(fileName)
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
