// Package keywords implements the Unicode-aware keyword filter applied to
// feed entries before they are published.
package keywords

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// MinLength is the shortest accepted keyword, in runes. Shorter terms match
// far too much text to be useful.
const MinLength = 4

// Matcher holds a normalized keyword set. The zero value and a Matcher with
// no terms accept every text.
type Matcher struct {
	terms []string
}

// New builds a Matcher from raw terms. Terms are normalized, deduplicated and
// dropped when shorter than MinLength.
func New(terms ...string) *Matcher {
	set := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		n := normalize(strings.TrimSpace(t))
		if utf8.RuneCountInString(n) < MinLength {
			continue
		}
		set[n] = struct{}{}
	}

	m := &Matcher{terms: make([]string, 0, len(set))}
	for t := range set {
		m.terms = append(m.terms, t)
	}
	sort.Strings(m.terms)
	return m
}

// Terms returns the normalized keyword set in sorted order.
func (m *Matcher) Terms() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.terms...)
}

// Empty reports whether the matcher filters nothing.
func (m *Matcher) Empty() bool {
	return m == nil || len(m.terms) == 0
}

// Match returns the first keyword found in text as a whole word. An empty
// matcher accepts every text and returns an empty term.
func (m *Matcher) Match(text string) (string, bool) {
	if m.Empty() {
		return "", true
	}

	haystack := normalize(text)
	for _, term := range m.terms {
		if containsWord(haystack, term) {
			return term, true
		}
	}
	return "", false
}

// Matches reports whether text contains any of the keywords as a whole word,
// case-insensitively. An empty keyword list matches everything.
func Matches(text string, terms []string) bool {
	_, ok := New(terms...).Match(text)
	return ok
}

// Parse splits a comma-separated keyword list.
func Parse(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoadFile reads one keyword per line from a UTF-8 file. Blank lines are
// ignored.
func LoadFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("keywords: open %s: %w", path, err)
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.ToLower(strings.TrimSpace(sc.Text())); line != "" {
			out = append(out, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("keywords: read %s: %w", path, err)
	}
	return out, nil
}

// normalize maps s to its compatibility-composed, case-folded form so that
// precomposed and decomposed accents, and upper and lower case, compare equal.
func normalize(s string) string {
	folded := cases.Fold().String(norm.NFKC.String(s))
	return norm.NFC.String(folded)
}

// containsWord reports whether word occurs in s delimited by word boundaries
// on both sides.
func containsWord(s, word string) bool {
	if word == "" {
		return false
	}
	for off := 0; off+len(word) <= len(s); {
		i := strings.Index(s[off:], word)
		if i < 0 {
			return false
		}
		start := off + i
		end := start + len(word)
		if isBoundary(s, start) && isBoundary(s, end) {
			return true
		}
		_, size := utf8.DecodeRuneInString(s[start:])
		off = start + size
	}
	return false
}

// isBoundary reports whether byte offset pos in s sits between a word rune
// and a non-word rune. String edges count as non-word.
func isBoundary(s string, pos int) bool {
	before, after := false, false
	if pos > 0 {
		r, _ := utf8.DecodeLastRuneInString(s[:pos])
		before = isWordRune(r)
	}
	if pos < len(s) {
		r, _ := utf8.DecodeRuneInString(s[pos:])
		after = isWordRune(r)
	}
	return before != after
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) ||
		unicode.IsMark(r) ||
		unicode.Is(unicode.Nd, r) ||
		unicode.Is(unicode.Pc, r)
}
