// Package glob compiles file glob patterns into path predicates and answers
// whether two patterns may cover the same files.
//
// Supported syntax: "*" matches within one path segment, "?" matches one
// non-separator character, "**/" at a segment boundary matches zero or more
// leading directories, "/**" at the end matches zero or more trailing
// segments, and a bare "**" matches everything. Every other character is a
// literal, including regular-expression metacharacters.
package glob

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxPatternLength = 1024
	MaxWildcards     = 32
)

// ErrInvalidPattern is wrapped by every Compile failure.
var ErrInvalidPattern = errors.New("invalid glob pattern")

type tokenKind int

const (
	tokenLiteral tokenKind = iota
	tokenAny
	tokenStar
	tokenGlobstarDir  // "**/" at a segment boundary
	tokenGlobstarTail // trailing "/**"
	tokenGlobstarAll  // whole-segment "**" at the end
)

type token struct {
	kind tokenKind
	lit  rune
}

func (t token) wildcard() bool {
	return t.kind != tokenLiteral
}

// Matcher is a compiled glob pattern. It is immutable and safe for concurrent use.
type Matcher struct {
	pattern string
	re      *regexp.Regexp
}

// Compile converts pattern into a Matcher.
func Compile(pattern string) (*Matcher, error) {
	tokens, err := parse(pattern)
	if err != nil {
		return nil, err
	}
	re, err := regexp.Compile(render(tokens))
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidPattern, pattern, err)
	}
	return &Matcher{pattern: pattern, re: re}, nil
}

// Pattern returns the source pattern.
func (m *Matcher) Pattern() string {
	return m.pattern
}

// Match reports whether path matches. The path is tried as given and then in
// its normalized form, so "src//a.go" and "/src/a.go" both match "src/*.go".
func (m *Matcher) Match(path string) bool {
	if m.re.MatchString(path) {
		return true
	}
	if norm := Normalize(path); norm != path {
		return m.re.MatchString(norm)
	}
	return false
}

// ValidateComplexity checks that a pattern is non-empty and within the
// length and wildcard limits.
func ValidateComplexity(pattern string) error {
	_, err := parse(pattern)
	return err
}

// Normalize converts path to slash form, collapses duplicate separators and
// strips a leading "./" or "/".
func Normalize(path string) string {
	path = filepath.ToSlash(path)
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	path = strings.TrimPrefix(path, "./")
	return strings.TrimPrefix(path, "/")
}

func parse(pattern string) ([]token, error) {
	if pattern == "" {
		return nil, fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	}
	if !utf8.ValidString(pattern) {
		return nil, fmt.Errorf("%w %q: not valid UTF-8", ErrInvalidPattern, pattern)
	}
	runes := []rune(filepath.ToSlash(pattern))
	if len(runes) > MaxPatternLength {
		return nil, fmt.Errorf("%w: %d characters exceeds limit of %d", ErrInvalidPattern, len(runes), MaxPatternLength)
	}

	tokens := make([]token, 0, len(runes))
	wildcards := 0
	for i := 0; i < len(runes); {
		atBoundary := i == 0 || runes[i-1] == '/'
		var tok token
		switch {
		case atBoundary && hasPrefixAt(runes, i, "**/"):
			tok = token{kind: tokenGlobstarDir}
			i += 3
		case i+3 == len(runes) && hasPrefixAt(runes, i, "/**"):
			tok = token{kind: tokenGlobstarTail}
			i += 3
		case atBoundary && i+2 == len(runes) && hasPrefixAt(runes, i, "**"):
			tok = token{kind: tokenGlobstarAll}
			i += 2
		case runes[i] == '*':
			tok = token{kind: tokenStar}
			i++
		case runes[i] == '?':
			tok = token{kind: tokenAny}
			i++
		default:
			tok = token{kind: tokenLiteral, lit: runes[i]}
			i++
		}
		if tok.wildcard() {
			wildcards++
		}
		tokens = append(tokens, tok)
	}

	if wildcards > MaxWildcards {
		return nil, fmt.Errorf("%w: %d wildcards exceeds limit of %d", ErrInvalidPattern, wildcards, MaxWildcards)
	}
	return tokens, nil
}

func render(tokens []token) string {
	var b strings.Builder
	b.WriteString("^")
	for _, t := range tokens {
		switch t.kind {
		case tokenLiteral:
			b.WriteString(regexp.QuoteMeta(string(t.lit)))
		case tokenAny:
			b.WriteString("[^/]")
		case tokenStar:
			b.WriteString("[^/]*")
		case tokenGlobstarDir:
			b.WriteString("(?:.*/)?")
		case tokenGlobstarTail:
			b.WriteString("(?:/.*)?")
		case tokenGlobstarAll:
			b.WriteString(".*")
		}
	}
	b.WriteString("$")
	return b.String()
}

func hasPrefixAt(runes []rune, idx int, prefix string) bool {
	for _, p := range prefix {
		if idx >= len(runes) || runes[idx] != p {
			return false
		}
		idx++
	}
	return true
}
