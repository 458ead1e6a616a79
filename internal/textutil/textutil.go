// Package textutil holds small string helpers shared by pipeline stages.
package textutil

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// CollapseWhitespace trims s and replaces every run of whitespace with one space.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Tokenize lowercases s and splits it on anything that is not a letter or digit.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// TokenSet returns the distinct tokens of s.
func TokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range Tokenize(s) {
		set[tok] = struct{}{}
	}
	return set
}

// TruncateAtWord cuts s to at most limit runes, backing off to the last space
// when one exists. The suffix is appended after the cut and counts toward limit.
func TruncateAtWord(s string, limit int, suffix string) string {
	runes := []rune(s)
	if limit <= 0 || len(runes) <= limit {
		return s
	}
	keep := limit - len([]rune(suffix))
	if keep <= 0 {
		return string(runes[:limit])
	}
	cut := string(runes[:keep])
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ") + suffix
}

// Excerpt returns the first limit runes of content cut at a word boundary
// with "..." appended when anything was dropped.
func Excerpt(content string, limit int) string {
	content = CollapseWhitespace(content)
	if len([]rune(content)) <= limit {
		return content
	}
	runes := []rune(content)
	cut := string(runes[:limit])
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " .,;:") + "..."
}

// Hash returns the hex sha256 of the parts joined with a NUL separator.
func Hash(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ShortHash returns the first 16 hex characters of Hash.
func ShortHash(parts ...string) string {
	return Hash(parts...)[:16]
}

// Clamp bounds v to [lo, hi].
func Clamp[T int | float64](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
