// Package wordmatch implements keyword matching over free text: whole-word
// matches plus simple inflections (keyword immediately followed by trailing
// word characters), case-insensitively. "cry" matches "cry" and "Crying"
// but never "acrylic" or "outcry".
package wordmatch

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
)

// folder performs full Unicode case folding, which is stricter than
// ToLower for the handful of scripts where lowercasing is not enough.
var folder = cases.Fold()

// Fold returns the case-folded form of s for caseless comparison. Shared
// with the filter engine's substring conditions.
func Fold(s string) string { return folder.String(s) }

// ContainsFold reports whether text contains keyword as a plain substring,
// ignoring case. This is deliberately NOT word-bounded; range filters on
// text columns want raw containment.
func ContainsFold(text, keyword string) bool {
	return strings.Contains(Fold(text), Fold(keyword))
}

// Matcher matches one keyword against arbitrary text at word granularity.
// Compile once per keyword and reuse across a full-table scan.
type Matcher struct {
	keyword string
	re      *regexp.Regexp
}

// New compiles a matcher for keyword.
//
// The keyword is taken literally: regexp metacharacters in it have no
// pattern meaning. An empty (or all-space) keyword is an error since it
// would claim every row.
func New(keyword string) (*Matcher, error) {
	kw := strings.TrimSpace(keyword)
	if kw == "" {
		return nil, fmt.Errorf("wordmatch: empty keyword")
	}

	// A word boundary must precede the keyword; trailing word characters
	// (inflections like "crying") are allowed because the match is
	// unanchored on the right.
	re, err := regexp.Compile(`(?i)(?:^|\W)` + regexp.QuoteMeta(kw))
	if err != nil {
		return nil, fmt.Errorf("wordmatch: compile keyword %q: %w", keyword, err)
	}
	return &Matcher{keyword: kw, re: re}, nil
}

// Keyword returns the trimmed keyword the matcher was built from.
func (m *Matcher) Keyword() string { return m.keyword }

// Match reports whether text contains the keyword as a whole word or an
// inflected form of it.
func (m *Matcher) Match(text string) bool {
	if text == "" {
		return false
	}
	return m.re.MatchString(text)
}
