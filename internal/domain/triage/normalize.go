package triage

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// gluedPhrases splits compounds that speech-to-text tends to emit without a
// space. Applied after punctuation stripping.
var gluedPhrases = strings.NewReplacer(
	"chestpain", "chest pain",
	"heartattack", "heart attack",
	"heartpain", "heart pain",
)

// Normalize canonicalises free-text symptom input for phrase matching:
// NFC, lower case, anything but letters, combining marks, digits and
// whitespace becomes a space, whitespace runs collapse, ends are trimmed.
// Marks are kept so Indic vowel signs stay attached to their consonants.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	text = strings.ToValidUTF8(text, " ")
	text = norm.NFC.String(text)
	text = cases.Lower(language.Und).String(text)

	var b strings.Builder
	b.Grow(len(text))
	pendingSpace := false
	for _, r := range text {
		keep := unicode.IsLetter(r) || unicode.IsMark(r) || unicode.IsDigit(r) || isJoiner(r)
		if !keep {
			pendingSpace = true
			continue
		}
		if pendingSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		pendingSpace = false
		b.WriteRune(r)
	}

	return gluedPhrases.Replace(b.String())
}

// ZWNJ and ZWJ shape Malayalam and Kannada conjuncts.
func isJoiner(r rune) bool {
	return r == '\u200c' || r == '\u200d'
}

// NormalizeAny is Normalize for values of unknown type: anything that is not
// a string (including nil) normalizes to "".
func NormalizeAny(v interface{}) string {
	switch s := v.(type) {
	case string:
		return Normalize(s)
	case *string:
		if s == nil {
			return ""
		}
		return Normalize(*s)
	default:
		return ""
	}
}
