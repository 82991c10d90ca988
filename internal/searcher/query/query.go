// Package query models the queries the searcher executes: exact term
// queries and boolean combinations of them.
package query

import (
	"fmt"
	"strings"
)

// Query is a TermQuery or a BooleanQuery. String returns a canonical form
// that also serves as a cache key.
type Query interface {
	String() string
	isQuery()
}

// TermQuery matches documents containing Term in Field. The term is compared
// exactly against indexed tokens; it is not analysed.
type TermQuery struct {
	Field string
	Term  string
}

func NewTerm(field, term string) *TermQuery {
	return &TermQuery{Field: field, Term: term}
}

func (q *TermQuery) String() string {
	return q.Field + ":" + q.Term
}

func (*TermQuery) isQuery() {}

// Occur says how a clause takes part in a BooleanQuery.
type Occur int

const (
	// Must clauses are required and contribute to the score.
	Must Occur = iota
	// Should clauses are optional and contribute to the score. Without any
	// Must clause at least one Should clause has to match.
	Should
	// MustNot clauses exclude documents and never score.
	MustNot
)

func (o Occur) String() string {
	switch o {
	case Must:
		return "+"
	case MustNot:
		return "-"
	default:
		return ""
	}
}

type Clause struct {
	Query Query
	Occur Occur
}

// BooleanQuery combines clauses. A query made only of MustNot clauses
// matches nothing.
type BooleanQuery struct {
	Clauses []Clause
}

func NewBoolean(clauses ...Clause) *BooleanQuery {
	return &BooleanQuery{Clauses: clauses}
}

// Add appends a clause and returns the query for chaining.
func (q *BooleanQuery) Add(sub Query, occur Occur) *BooleanQuery {
	q.Clauses = append(q.Clauses, Clause{Query: sub, Occur: occur})
	return q
}

func (q *BooleanQuery) Must(sub Query) *BooleanQuery    { return q.Add(sub, Must) }
func (q *BooleanQuery) Should(sub Query) *BooleanQuery  { return q.Add(sub, Should) }
func (q *BooleanQuery) MustNot(sub Query) *BooleanQuery { return q.Add(sub, MustNot) }

func (q *BooleanQuery) String() string {
	parts := make([]string, len(q.Clauses))
	for i, c := range q.Clauses {
		s := c.Query.String()
		if _, nested := c.Query.(*BooleanQuery); nested {
			s = "(" + s + ")"
		}
		parts[i] = c.Occur.String() + s
	}
	return strings.Join(parts, " ")
}

func (*BooleanQuery) isQuery() {}

// Terms lists every term query reachable from q, in clause order.
func Terms(q Query) []*TermQuery {
	switch v := q.(type) {
	case *TermQuery:
		return []*TermQuery{v}
	case *BooleanQuery:
		var out []*TermQuery
		for _, c := range v.Clauses {
			out = append(out, Terms(c.Query)...)
		}
		return out
	default:
		panic(fmt.Sprintf("query: unexpected type %T", q))
	}
}
