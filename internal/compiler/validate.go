package compiler

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/tandem/internal/schema"
)

// Validation error codes (E200-E299)
const (
	ErrInvalidModelName   = "E201" // model name missing or not an identifier
	ErrInvalidFieldName   = "E202" // attribute or relationship name not an identifier
	ErrMissingTarget      = "E203" // relationship has no target type
	ErrInvalidCardinality = "E204" // cardinality is neither "one" nor "many"
	ErrInvalidAttrType    = "E205" // attribute type is not a known type name
	ErrDuplicateName      = "E206" // name used twice within a model
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidationErrors is every problem found in a set of models.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return strings.Join(msgs, "; ")
}

// identPattern matches model, attribute and relationship names.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// attrTypes are the attribute type names the engine checks values against.
var attrTypes = map[string]bool{
	"string": true,
	"int":    true,
	"bool":   true,
	"array":  true,
	"object": true,
	"any":    true,
}

// Validate checks a model's local rules. Cross-model rules (target types
// exist, inverses agree) are checked by schema.Registry.Freeze.
// Returns all errors found (does not fail-fast).
func Validate(m *schema.Model) []ValidationError {
	var errs []ValidationError

	// E201: model name
	if !identPattern.MatchString(m.Name) {
		errs = append(errs, ValidationError{
			Field:   "model",
			Message: fmt.Sprintf("invalid model name %q", m.Name),
			Code:    ErrInvalidModelName,
		})
	}
	prefix := m.Name + "."

	names := make([]string, 0, len(m.Attributes))
	for name := range m.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		// E202
		if !identPattern.MatchString(name) {
			errs = append(errs, ValidationError{
				Field:   prefix + "attributes",
				Message: fmt.Sprintf("invalid attribute name %q", name),
				Code:    ErrInvalidFieldName,
			})
		}
		// E205
		if typ := m.Attributes[name]; !attrTypes[typ] {
			errs = append(errs, ValidationError{
				Field:   prefix + "attributes." + name,
				Message: fmt.Sprintf("unknown type %q", typ),
				Code:    ErrInvalidAttrType,
			})
		}
	}

	seen := make(map[string]bool, len(m.Fields))
	for i, f := range m.Fields {
		path := fmt.Sprintf("%srelationships[%d]", prefix, i)

		// E202
		if !identPattern.MatchString(f.Name) {
			errs = append(errs, ValidationError{
				Field:   path + ".name",
				Message: fmt.Sprintf("invalid relationship name %q", f.Name),
				Code:    ErrInvalidFieldName,
			})
		}

		// E206: unique among relationships and attributes
		if _, clash := m.Attributes[f.Name]; clash || seen[f.Name] {
			errs = append(errs, ValidationError{
				Field:   path + ".name",
				Message: fmt.Sprintf("duplicate name %q", f.Name),
				Code:    ErrDuplicateName,
			})
		}
		seen[f.Name] = true

		// E203
		if strings.TrimSpace(f.Target) == "" {
			errs = append(errs, ValidationError{
				Field:   path + ".target",
				Message: fmt.Sprintf("relationship %q has no target type", f.Name),
				Code:    ErrMissingTarget,
			})
		}

		// E204: empty means the default (many)
		if f.Cardinality != "" && !f.Cardinality.Valid() {
			errs = append(errs, ValidationError{
				Field:   path + ".cardinality",
				Message: fmt.Sprintf("cardinality must be %q or %q, got %q", schema.One, schema.Many, f.Cardinality),
				Code:    ErrInvalidCardinality,
			})
		}
	}

	return errs
}
