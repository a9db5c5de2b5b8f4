// Package textnorm cleans free text typed on a phone keyboard before it is stored.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Clean trims surrounding whitespace, composes to NFC and drops control
// characters other than newlines and tabs.
func Clean(s string) string {
	s = norm.NFC.String(s)
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// Line is Clean for single-line fields: inner whitespace runs collapse to one space.
func Line(s string) string {
	return strings.Join(strings.Fields(Clean(s)), " ")
}

var title = cases.Title(language.English)

// Title upper-cases the first letter of every word.
func Title(s string) string {
	return title.String(s)
}
