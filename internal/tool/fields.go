package tool

import (
	"fmt"

	apperrors "github.com/knearme/showcase/internal/errors"
	"github.com/knearme/showcase/internal/state"
)

// Field names a scalar project field the model is allowed to set. The set
// of writable fields is enumerated here and nowhere else; a field name
// arriving in tool input that is not in this list is rejected before any
// mutation happens.
type Field string

const (
	FieldTitle          Field = "title"
	FieldDescription    Field = "description"
	FieldSEOTitle       Field = "seo_title"
	FieldSEODescription Field = "seo_description"
	FieldProblem        Field = "problem"
	FieldSolution       Field = "solution"
	FieldHighlight      Field = "highlight"
)

// mutableFields maps each writable field to its delta setter. Lookup is
// the allow-list check: absent key means the field cannot be mutated.
var mutableFields = map[Field]func(*state.Delta, string){
	FieldTitle:          func(d *state.Delta, v string) { d.Title = v },
	FieldDescription:    func(d *state.Delta, v string) { d.Description = v },
	FieldSEOTitle:       func(d *state.Delta, v string) { d.SEOTitle = v },
	FieldSEODescription: func(d *state.Delta, v string) { d.SEODescription = v },
	FieldProblem:        func(d *state.Delta, v string) { d.Problem = v },
	FieldSolution:       func(d *state.Delta, v string) { d.Solution = v },
	FieldHighlight:      func(d *state.Delta, v string) { d.Highlight = v },
}

// MutableFields returns the writable field names in a stable order,
// suitable for embedding in tool schemas and error messages.
func MutableFields() []Field {
	return []Field{
		FieldTitle,
		FieldDescription,
		FieldSEOTitle,
		FieldSEODescription,
		FieldProblem,
		FieldSolution,
		FieldHighlight,
	}
}

// fieldNames returns MutableFields as plain strings for JSON schema enums.
func fieldNames() []string {
	fields := MutableFields()
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = string(f)
	}
	return out
}

// setField writes value into the delta slot for field, or rejects the
// field if it is not in the allow-list.
func setField(d *state.Delta, field Field, value string) error {
	set, ok := mutableFields[field]
	if !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrFieldNotAllowed, field)
	}
	set(d, value)
	return nil
}
