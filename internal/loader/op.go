// Package loader applies a JSON-lines file of index operations to a Writer.
// Each line is one Op:
//
//	{"op":"add","fields":[{"name":"id","value":"1","stored":true,"indexed":true}]}
//	{"op":"update","term":{"field":"id","text":"1"},"fields":[...]}
//	{"op":"delete","term":{"field":"city","text":"Venice"}}
//	{"op":"delete_all"}
//	{"op":"commit"}
package loader

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/document"
)

const (
	OpAdd       = "add"
	OpUpdate    = "update"
	OpDelete    = "delete"
	OpDeleteAll = "delete_all"
	OpCommit    = "commit"
)

const maxFieldNameLength = 255

type TermSpec struct {
	Field string `json:"field"`
	Text  string `json:"text"`
}

type Op struct {
	Op     string           `json:"op"`
	Term   *TermSpec        `json:"term,omitempty"`
	Fields []document.Field `json:"fields,omitempty"`
}

// ValidationError holds per-attribute failure messages of one line.
type ValidationError struct {
	Line   int
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %s", k, e.Fields[k])
	}
	return fmt.Sprintf("line %d: %s", e.Line, strings.Join(parts, "; "))
}

// Validate checks the shape of op. Field type combinations are checked by the
// writer itself.
func (op *Op) Validate(line int) error {
	errs := make(map[string]string)
	switch op.Op {
	case OpAdd, OpUpdate:
		if len(op.Fields) == 0 {
			errs["fields"] = "at least one field is required"
		}
		for i, f := range op.Fields {
			if f.Name == "" {
				errs[fmt.Sprintf("fields[%d].name", i)] = "name is required"
			} else if len(f.Name) > maxFieldNameLength {
				errs[fmt.Sprintf("fields[%d].name", i)] = fmt.Sprintf("name must be at most %d characters", maxFieldNameLength)
			}
		}
	case OpDelete, OpDeleteAll, OpCommit:
		if len(op.Fields) > 0 {
			errs["fields"] = fmt.Sprintf("not allowed for %s", op.Op)
		}
	case "":
		errs["op"] = "op is required"
	default:
		errs["op"] = fmt.Sprintf("unknown op %q", op.Op)
	}
	if op.Op == OpUpdate || op.Op == OpDelete {
		if op.Term == nil || op.Term.Field == "" {
			errs["term"] = "term with a field is required"
		}
	} else if op.Term != nil && op.Op != "" {
		errs["term"] = fmt.Sprintf("not allowed for %s", op.Op)
	}
	if len(errs) > 0 {
		return &ValidationError{Line: line, Fields: errs}
	}
	return nil
}
