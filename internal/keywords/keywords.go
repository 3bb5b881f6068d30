// Package keywords cleans free-text watch keywords into search query strings.
package keywords

import (
	"regexp"
	"strings"
)

var nonWord = regexp.MustCompile(`\W`)

// Normalize splits text on whitespace, strips non-word characters from every
// token, drops tokens left empty and joins the rest with single spaces.
func Normalize(text string) string {
	tokens := strings.Fields(text)
	kept := tokens[:0]
	for _, tok := range tokens {
		if tok = nonWord.ReplaceAllString(tok, ""); tok != "" {
			kept = append(kept, tok)
		}
	}
	return strings.Join(kept, " ")
}
