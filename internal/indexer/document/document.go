// Package document describes the input and output shape of indexed
// documents: an ordered list of named string fields, each carrying a small
// stored/indexed/tokenized configuration.
package document

import (
	"fmt"

	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
)

// FieldType configures how a field value is kept by the index.
type FieldType struct {
	Stored    bool `json:"stored"`
	Indexed   bool `json:"indexed"`
	Tokenized bool `json:"tokenized"`
}

var (
	// StringType indexes the whole value as one exact-match term and stores it.
	StringType = FieldType{Stored: true, Indexed: true}
	// TextType runs the value through the analyzer without storing it.
	TextType = FieldType{Indexed: true, Tokenized: true}
	// StoredTextType runs the value through the analyzer and stores it.
	StoredTextType = FieldType{Stored: true, Indexed: true, Tokenized: true}
	// StoredOnlyType keeps the value retrievable but unsearchable.
	StoredOnlyType = FieldType{Stored: true}
)

// Validate reports ErrInvalidFieldConfig for combinations the index cannot
// honour.
func (t FieldType) Validate() error {
	if t.Tokenized && !t.Indexed {
		return fmt.Errorf("%w: tokenized field must also be indexed", apperrors.ErrInvalidFieldConfig)
	}
	if !t.Stored && !t.Indexed {
		return fmt.Errorf("%w: field must be stored, indexed, or both", apperrors.ErrInvalidFieldConfig)
	}
	return nil
}

// Field is a single name/value pair of a document.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	FieldType
}

func NewStringField(name, value string) Field {
	return Field{Name: name, Value: value, FieldType: StringType}
}

func NewTextField(name, value string, stored bool) Field {
	ft := TextType
	if stored {
		ft = StoredTextType
	}
	return Field{Name: name, Value: value, FieldType: ft}
}

func NewStoredField(name, value string) Field {
	return Field{Name: name, Value: value, FieldType: StoredOnlyType}
}

// Document is an ordered sequence of fields. Field names may repeat.
type Document struct {
	Fields []Field `json:"fields"`
}

func New(fields ...Field) Document {
	return Document{Fields: fields}
}

// Add appends a field and returns the document for chaining.
func (d *Document) Add(f Field) *Document {
	d.Fields = append(d.Fields, f)
	return d
}

// Get returns the value of the first field with the given name.
func (d Document) Get(name string) (string, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// StoredValues returns the first value of every stored field, keyed by name.
func (d Document) StoredValues() map[string]string {
	out := make(map[string]string)
	for _, f := range d.Fields {
		if !f.Stored {
			continue
		}
		if _, exists := out[f.Name]; !exists {
			out[f.Name] = f.Value
		}
	}
	return out
}

// Validate checks every field; the first failure is returned.
func (d Document) Validate() error {
	for i, f := range d.Fields {
		if f.Name == "" {
			return fmt.Errorf("%w: field %d has an empty name", apperrors.ErrInvalidFieldConfig, i)
		}
		if err := f.FieldType.Validate(); err != nil {
			return fmt.Errorf("field %q: %w", f.Name, err)
		}
	}
	return nil
}
