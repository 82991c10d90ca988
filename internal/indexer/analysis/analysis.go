// Package analysis turns field values into index terms. The default
// whitespace analyzer splits on whitespace and preserves case; the standard
// and english analyzers lower-case and split on non-alphanumeric boundaries,
// the latter also dropping stop-words and applying Snowball stemming.
package analysis

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/kljensen/snowball/english"
)

const (
	Whitespace = "whitespace"
	Standard   = "standard"
	English    = "english"
)

// Token is a single term and its position in the analysed value.
type Token struct {
	Term     string
	Position int
}

// Analyzer splits a field value into tokens.
type Analyzer interface {
	Name() string
	Analyze(text string) []Token
}

// Config selects an analyzer by name.
type Config struct {
	Name string `yaml:"name"`
}

// New returns the analyzer named by cfg. An empty name selects whitespace.
func New(cfg Config) (Analyzer, error) {
	switch cfg.Name {
	case "", Whitespace:
		return whitespaceAnalyzer{}, nil
	case Standard:
		return standardAnalyzer{}, nil
	case English:
		return englishAnalyzer{}, nil
	default:
		return nil, fmt.Errorf("unknown analyzer %q", cfg.Name)
	}
}

type whitespaceAnalyzer struct{}

func (whitespaceAnalyzer) Name() string { return Whitespace }

func (whitespaceAnalyzer) Analyze(text string) []Token {
	words := strings.Fields(text)
	tokens := make([]Token, len(words))
	for i, w := range words {
		tokens[i] = Token{Term: w, Position: i}
	}
	return tokens
}

type standardAnalyzer struct{}

func (standardAnalyzer) Name() string { return Standard }

func (standardAnalyzer) Analyze(text string) []Token {
	words := splitWords(text)
	tokens := make([]Token, len(words))
	for i, w := range words {
		tokens[i] = Token{Term: w, Position: i}
	}
	return tokens
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {},
}

type englishAnalyzer struct{}

func (englishAnalyzer) Name() string { return English }

// Analyze keeps the position of every word, stop-words included, so that
// positions still reflect the original text.
func (englishAnalyzer) Analyze(text string) []Token {
	words := splitWords(text)
	tokens := make([]Token, 0, len(words))
	for pos, w := range words {
		if _, isStop := stopWords[w]; isStop {
			continue
		}
		stemmed := english.Stem(w, false)
		if stemmed == "" {
			continue
		}
		tokens = append(tokens, Token{Term: stemmed, Position: pos})
	}
	return tokens
}

func splitWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
