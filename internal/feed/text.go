package feed

import (
	"html"
	"regexp"
	"strings"
)

// reHTMLTag matches HTML tags.
var reHTMLTag = regexp.MustCompile(`<[^>]*>`)

// reWhitespace matches runs of whitespace, newlines and no-break spaces
// included.
var reWhitespace = regexp.MustCompile(`[\s\p{Zs}]+`)

// blockTags end a block of text; they become spaces so adjacent paragraphs
// do not run together into one word.
var blockTags = regexp.MustCompile(`(?i)</(p|div|li|h[1-6]|tr|blockquote)>|<br\s*/?>`)

// plainText strips markup from a feed summary, decodes entities and collapses
// whitespace to single spaces.
func plainText(s string) string {
	if s == "" {
		return ""
	}
	text := blockTags.ReplaceAllString(s, " ")
	text = reHTMLTag.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	text = reWhitespace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
