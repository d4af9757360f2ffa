package compiler

import (
	"fmt"
	"os"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/tandem/internal/schema"
)

// CompileModel parses a CUE value into a schema.Model.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the model struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`model: user: { ... }`)
//	m, err := CompileModel(v.LookupPath(cue.ParsePath("model.user")))
func CompileModel(v cue.Value) (*schema.Model, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	m := &schema.Model{Attributes: map[string]string{}}

	// Model name comes from the struct label
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		m.Name = labels[len(labels)-1].String()
	}

	attrVal := v.LookupPath(cue.ParsePath("attributes"))
	if attrVal.Exists() {
		iter, err := attrVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			name := iter.Label()
			typ, err := extractTypeName(iter.Value())
			if err != nil {
				return nil, fieldError(err, "attributes."+name)
			}
			m.Attributes[name] = typ
		}
	}

	relVal := v.LookupPath(cue.ParsePath("relationships"))
	if relVal.Exists() {
		iter, err := relVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			f, err := parseField(iter.Label(), iter.Value())
			if err != nil {
				return nil, err
			}
			m.Fields = append(m.Fields, f)
		}
	}

	return m, nil
}

// parseField extracts one relationship definition:
//
//	accounts: { target: "account", cardinality: "many", async: false, inverse: "users" }
//
// Only target is required. inverse: null declares a one-way field.
func parseField(name string, v cue.Value) (*schema.Field, error) {
	path := "relationships." + name
	f := &schema.Field{Name: name}

	targetVal := v.LookupPath(cue.ParsePath("target"))
	if !targetVal.Exists() {
		return nil, &CompileError{
			Field:   path + ".target",
			Message: "target is required",
			Pos:     v.Pos(),
		}
	}
	target, err := targetVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	f.Target = target

	if c := v.LookupPath(cue.ParsePath("cardinality")); c.Exists() {
		s, err := c.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		f.Cardinality = schema.Cardinality(s)
	}

	if a := v.LookupPath(cue.ParsePath("async")); a.Exists() {
		b, err := a.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		f.Async = b
	}

	if inv := v.LookupPath(cue.ParsePath("inverse")); inv.Exists() {
		if inv.IsNull() {
			f.Inverse = schema.NoInverse
		} else {
			s, err := inv.String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			if s == "" || s == schema.NoInverse {
				return nil, &CompileError{
					Field:   path + ".inverse",
					Message: "inverse must name a field or be null",
					Pos:     inv.Pos(),
				}
			}
			f.Inverse = s
		}
	}

	return f, nil
}

// CompileValue compiles every model under the top-level "model" struct,
// sorted by name.
func CompileValue(v cue.Value) ([]*schema.Model, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	modelsVal := v.LookupPath(cue.ParsePath("model"))
	if !modelsVal.Exists() {
		return nil, &CompileError{
			Field:   "model",
			Message: "at least one model definition is required",
			Pos:     v.Pos(),
		}
	}

	iter, err := modelsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var models []*schema.Model
	for iter.Next() {
		m, err := CompileModel(iter.Value())
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	if len(models) == 0 {
		return nil, &CompileError{
			Field:   "model",
			Message: "at least one model definition is required",
			Pos:     modelsVal.Pos(),
		}
	}

	sort.Slice(models, func(i, j int) bool {
		return models[i].Name < models[j].Name
	})
	return models, nil
}

// CompileRegistry validates models, registers them and freezes the result.
// Validation problems are returned together as ValidationErrors; registry
// problems (unknown targets, ambiguous inverses) wrap the schema sentinels.
func CompileRegistry(models []*schema.Model) (*schema.Registry, error) {
	var verrs ValidationErrors
	for _, m := range models {
		verrs = append(verrs, Validate(m)...)
	}
	if len(verrs) > 0 {
		return nil, verrs
	}

	reg := schema.NewRegistry()
	for _, m := range models {
		if err := reg.Register(m); err != nil {
			return nil, fmt.Errorf("register model %q: %w", m.Name, err)
		}
	}
	if err := reg.Freeze(); err != nil {
		return nil, fmt.Errorf("resolve inverses: %w", err)
	}
	return reg, nil
}

// CompileString compiles CUE source into a frozen registry. filename is
// used in error positions.
func CompileString(src, filename string) (*schema.Registry, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	models, err := CompileValue(v)
	if err != nil {
		return nil, err
	}
	return CompileRegistry(models)
}

// CompileFile reads and compiles a CUE schema file.
func CompileFile(path string) (*schema.Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return CompileString(string(data), path)
}

// extractTypeName converts a CUE attribute type to a schema type name.
// Floats are forbidden: attribute values are canonical JSON integers.
func extractTypeName(v cue.Value) (string, error) {
	switch v.IncompleteKind() {
	case cue.StringKind:
		return "string", nil
	case cue.IntKind:
		return "int", nil
	case cue.BoolKind:
		return "bool", nil
	case cue.ListKind:
		return "array", nil
	case cue.StructKind:
		return "object", nil
	case cue.TopKind:
		return "any", nil
	case cue.FloatKind, cue.NumberKind:
		return "", &CompileError{
			Field:   "type",
			Message: "float types are forbidden - use int instead",
			Pos:     v.Pos(),
		}
	default:
		return "", &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("unsupported type kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// fieldError qualifies a CompileError's field with the path it occurred at.
func fieldError(err error, path string) error {
	if ce, ok := err.(*CompileError); ok {
		return &CompileError{Field: path, Message: ce.Message, Pos: ce.Pos}
	}
	return err
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
