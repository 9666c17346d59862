// Package textutil normalizes the free-form names that come off
// scraped pages before they are compared.
package textutil

import (
	"regexp"
	"strings"
)

var whitespace = regexp.MustCompile(`\s+`)

// Fold lowercases and collapses runs of whitespace, so names differing
// only in spacing or case compare equal.
func Fold(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	return whitespace.ReplaceAllString(name, " ")
}
