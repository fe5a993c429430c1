package utils

import (
	"math/rand"
)

const letters = "abcdefghijklmnopqrstuvwxyz"

// ContainsString returns true iff the provided string slice hay contains
// string needle.
func ContainsString(hay []string, needle string) bool {
	for _, str := range hay {
		if str == needle {
			return true
		}
	}
	return false
}

// RandomAlphabetString generates a random lowercase alphabet string of the
// given length.
func RandomAlphabetString(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}

// TruncateWithEllipsis cuts s down to at most limit runes. The visible "..."
// continuation marker is part of the limit, matching how Discord counts embed
// title/description length.
func TruncateWithEllipsis(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}

// DedupStrings returns the input strings with duplicates removed, preserving
// first-seen order.
func DedupStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
