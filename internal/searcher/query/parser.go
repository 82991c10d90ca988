package query

import (
	"fmt"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
)

// Parse turns a whitespace-separated query string into a Query. Words are
// field:term pairs or bare terms of defaultField. The keywords AND and OR
// choose whether the positive terms are all required or any may match
// (AND is the default, the last keyword wins); NOT excludes the word that
// follows. A single positive word without exclusions yields a TermQuery.
func Parse(text, defaultField string) (Query, error) {
	var (
		positive    []*TermQuery
		excluded    []*TermQuery
		occur       = Must
		excludeNext bool
	)
	for _, word := range strings.Fields(text) {
		switch word {
		case "AND":
			occur = Must
			continue
		case "OR":
			occur = Should
			continue
		case "NOT":
			excludeNext = true
			continue
		}
		tq, err := parseTerm(word, defaultField)
		if err != nil {
			return nil, err
		}
		if excludeNext {
			excluded = append(excluded, tq)
			excludeNext = false
		} else {
			positive = append(positive, tq)
		}
	}

	if len(positive) == 0 {
		return nil, fmt.Errorf("%w: query %q has no positive terms", apperrors.ErrInvalidInput, text)
	}
	if len(positive) == 1 && len(excluded) == 0 {
		return positive[0], nil
	}
	bq := NewBoolean()
	for _, tq := range positive {
		bq.Add(tq, occur)
	}
	for _, tq := range excluded {
		bq.MustNot(tq)
	}
	return bq, nil
}

func parseTerm(word, defaultField string) (*TermQuery, error) {
	field, term, found := strings.Cut(word, ":")
	if !found {
		field, term = defaultField, word
	}
	if field == "" || term == "" {
		return nil, fmt.Errorf("%w: malformed query term %q", apperrors.ErrInvalidInput, word)
	}
	return NewTerm(field, term), nil
}
