package schema

import (
	"errors"
	"fmt"
	"slices"
	"sort"
)

// Cardinality is the member count a relationship field allows.
type Cardinality string

const (
	One  Cardinality = "one"
	Many Cardinality = "many"
)

// Valid reports whether c is a known cardinality.
func (c Cardinality) Valid() bool {
	return c == One || c == Many
}

var (
	ErrUnknownType     = errors.New("unknown model type")
	ErrUnknownField    = errors.New("unknown relationship field")
	ErrFrozen          = errors.New("registry is frozen")
	ErrNotFrozen       = errors.New("registry is not frozen")
	ErrDuplicate       = errors.New("duplicate definition")
	ErrInverseMismatch = errors.New("inverse mismatch")
	ErrInvalidField    = errors.New("invalid relationship field")
)

// NoInverse is the Inverse value for a field explicitly declared one-way.
const NoInverse = "-"

// Field describes one relationship field of a model type.
//
// Inverse is the name of the mirroring field on Target, or empty for a
// one-way field once the registry is frozen. Before Freeze an empty Inverse
// means "infer", and NoInverse means "one-way".
type Field struct {
	Owner       string      `json:"owner"`
	Name        string      `json:"name"`
	Target      string      `json:"target"`
	Cardinality Cardinality `json:"cardinality"`
	Inverse     string      `json:"inverse,omitempty"`
	Async       bool        `json:"async"`
}

// HasInverse reports whether edits on this field are mirrored.
func (f *Field) HasInverse() bool {
	return f.Inverse != "" && f.Inverse != NoInverse
}

// String renders the field as "owner.name".
func (f *Field) String() string {
	return f.Owner + "." + f.Name
}

// Model describes a record type: its declared attributes and its
// relationship fields.
type Model struct {
	Name string `json:"name"`

	// Attributes maps attribute name to type name ("string", "int", "bool",
	// "array", "object", or "any"). An empty map leaves attributes unchecked.
	Attributes map[string]string `json:"attributes"`

	Fields []*Field `json:"fields"`
}

// Field returns the named field, or nil.
func (m *Model) Field(name string) *Field {
	for _, f := range m.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Registry is the table of all model types.
type Registry struct {
	models map[string]*Model
	frozen bool
}

// NewRegistry creates an empty, unfrozen registry.
func NewRegistry() *Registry {
	return &Registry{models: make(map[string]*Model)}
}

// Register adds a model. Field owners are set to the model name.
func (r *Registry) Register(m *Model) error {
	if r.frozen {
		return ErrFrozen
	}
	if m == nil || m.Name == "" {
		return fmt.Errorf("%w: model name is required", ErrInvalidField)
	}
	if _, ok := r.models[m.Name]; ok {
		return fmt.Errorf("%w: model %q", ErrDuplicate, m.Name)
	}

	seen := make(map[string]bool, len(m.Fields))
	for _, f := range m.Fields {
		if f.Name == "" {
			return fmt.Errorf("%w: %s has a field without a name", ErrInvalidField, m.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: field %s.%s", ErrDuplicate, m.Name, f.Name)
		}
		if _, clash := m.Attributes[f.Name]; clash {
			return fmt.Errorf("%w: %s.%s is both an attribute and a relationship", ErrDuplicate, m.Name, f.Name)
		}
		seen[f.Name] = true
		f.Owner = m.Name
		if f.Cardinality == "" {
			f.Cardinality = Many
		}
		if !f.Cardinality.Valid() {
			return fmt.Errorf("%w: %s.%s has cardinality %q", ErrInvalidField, m.Name, f.Name, f.Cardinality)
		}
		if f.Target == "" {
			return fmt.Errorf("%w: %s.%s has no target type", ErrInvalidField, m.Name, f.Name)
		}
	}
	if m.Attributes == nil {
		m.Attributes = map[string]string{}
	}

	r.models[m.Name] = m
	return nil
}

// MustRegister is like Register but panics on error.
// Use only in tests or with static model tables.
func (r *Registry) MustRegister(m *Model) {
	if err := r.Register(m); err != nil {
		panic(err)
	}
}

// Freeze resolves and validates inverses, then makes the registry read-only.
// Inference only looks at declared inverses, so the result does not depend
// on registration order. All problems are reported together.
func (r *Registry) Freeze() error {
	if r.frozen {
		return nil
	}

	var errs []error
	var all []*Field
	for _, name := range r.Types() {
		for _, f := range r.models[name].Fields {
			if _, ok := r.models[f.Target]; !ok {
				errs = append(errs, fmt.Errorf("%w: %s targets %q", ErrUnknownType, f, f.Target))
				continue
			}
			all = append(all, f)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	resolved := make(map[*Field]string, len(all))
	for _, f := range all {
		inv, err := r.inferInverse(f)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		resolved[f] = inv
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	for _, f := range all {
		name := resolved[f]
		if name == NoInverse {
			continue
		}
		inv := r.models[f.Target].Field(name)
		switch {
		case inv == nil:
			errs = append(errs, fmt.Errorf("%w: %s names inverse %s.%s which does not exist", ErrInverseMismatch, f, f.Target, name))
		case inv.Target != f.Owner:
			errs = append(errs, fmt.Errorf("%w: %s inverse %s targets %q, want %q", ErrInverseMismatch, f, inv, inv.Target, f.Owner))
		case resolved[inv] != f.Name:
			errs = append(errs, fmt.Errorf("%w: %s pairs with %s, but %s pairs with %q", ErrInverseMismatch, f, inv, inv, resolved[inv]))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	for f, name := range resolved {
		if name == NoInverse {
			name = ""
		}
		f.Inverse = name
	}
	r.frozen = true
	return nil
}

// inferInverse returns the inverse name for f, or NoInverse. Declared names
// win; otherwise the single field on the target pointing back at f's owner
// is chosen, preferring one that names f explicitly.
func (r *Registry) inferInverse(f *Field) (string, error) {
	if f.Inverse != "" {
		return f.Inverse, nil
	}

	var open, explicit []*Field
	for _, other := range r.models[f.Target].Fields {
		if other == f || other.Target != f.Owner {
			continue
		}
		switch other.Inverse {
		case f.Name:
			explicit = append(explicit, other)
		case "":
			open = append(open, other)
		}
	}

	switch {
	case len(explicit) == 1:
		return explicit[0].Name, nil
	case len(explicit) == 0 && len(open) == 1:
		return open[0].Name, nil
	case len(explicit) == 0 && len(open) == 0:
		return NoInverse, nil
	}

	names := make([]string, 0, len(explicit)+len(open))
	for _, c := range append(explicit, open...) {
		names = append(names, c.Name)
	}
	return "", fmt.Errorf("%w: %s has ambiguous inverse on %s: %v", ErrInverseMismatch, f, f.Target, names)
}

// Frozen reports whether Freeze has completed.
func (r *Registry) Frozen() bool {
	return r.frozen
}

// Types returns the registered model names in sorted order.
func (r *Registry) Types() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Model returns the model for typ.
func (r *Registry) Model(typ string) (*Model, error) {
	m, ok := r.models[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	return m, nil
}

// Field returns the descriptor for typ.name.
func (r *Registry) Field(typ, name string) (*Field, error) {
	m, err := r.Model(typ)
	if err != nil {
		return nil, err
	}
	f := m.Field(name)
	if f == nil {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, typ, name)
	}
	return f, nil
}

// Fields returns typ's relationship fields sorted by name.
func (r *Registry) Fields(typ string) ([]*Field, error) {
	m, err := r.Model(typ)
	if err != nil {
		return nil, err
	}
	fields := slices.Clone(m.Fields)
	slices.SortFunc(fields, func(a, b *Field) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return fields, nil
}

// InverseOf returns the field mirroring f, or nil for a one-way field.
func (r *Registry) InverseOf(f *Field) *Field {
	if !f.HasInverse() {
		return nil
	}
	inv, err := r.Field(f.Target, f.Inverse)
	if err != nil {
		return nil
	}
	return inv
}
