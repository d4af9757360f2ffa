package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tandem/internal/ir"
)

// Scenario defines a relationship-engine scenario.
// A scenario compiles a schema, seeds the server-side store, runs a flow of
// engine operations and asserts on the resulting trace and final state.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is the path of a CUE schema file. Relative paths are resolved
	// against the scenario file's directory by LoadScenario.
	Schema string `yaml:"schema,omitempty"`

	// SchemaSource is inline CUE, used when Schema is empty.
	SchemaSource string `yaml:"schema_source,omitempty"`

	// Server lists records seeded into the store before the flow. Async
	// relationships are materialized from here.
	Server []Fixture `yaml:"server,omitempty"`

	// Flow contains the engine operations to run, in order.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final engine state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Fixture is one record in canonical payload form.
type Fixture struct {
	// Record is the record key, "type:id".
	Record string `yaml:"record"`

	Attributes map[string]any `yaml:"attributes,omitempty"`

	// Relationships maps field name to member ids. A field listed with an
	// empty list asserts the record has no members.
	Relationships map[string][]string `yaml:"relationships,omitempty"`
}

// Payload converts the fixture to the model type and payload it describes.
func (f Fixture) Payload() (string, ir.Payload, error) {
	key, err := ir.ParseKey(f.Record)
	if err != nil {
		return "", ir.Payload{}, err
	}
	attrs, err := convertAttributes(f.Attributes)
	if err != nil {
		return "", ir.Payload{}, fmt.Errorf("%s: %w", f.Record, err)
	}
	return key.Type, ir.Payload{ID: key.ID, Attributes: attrs, Relationships: f.Relationships}, nil
}

// Step is one engine operation.
type Step struct {
	// Op is one of the Op* constants.
	Op string `yaml:"op"`

	// Record references the record operated on: "type:id" or "@alias".
	// For push and serve it is the key of the payload.
	Record string `yaml:"record,omitempty"`

	// Type is the model type of a created record.
	Type string `yaml:"type,omitempty"`

	// As names the alias a created record is bound to.
	As string `yaml:"as,omitempty"`

	// Field is the relationship field for add, remove and fetch.
	Field string `yaml:"field,omitempty"`

	// Fields lists the async fields for preload. Empty means all.
	Fields []string `yaml:"fields,omitempty"`

	// Member references the record added or removed.
	Member string `yaml:"member,omitempty"`

	// Attribute and Value are used by set.
	Attribute string `yaml:"attribute,omitempty"`
	Value     any    `yaml:"value,omitempty"`

	// Attributes and Relationships form the payload for push, create and
	// serve.
	Attributes    map[string]any      `yaml:"attributes,omitempty"`
	Relationships map[string][]string `yaml:"relationships,omitempty"`

	// Expect specifies the expected outcome. If nil the step must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect specifies a step's expected outcome.
type Expect struct {
	// Error is the expected engine error code (e.g. "NOT_FOUND"). Empty
	// means the step must succeed.
	Error string `yaml:"error,omitempty"`

	// Members are the expected member keys returned by fetch, in order.
	// References may be aliases.
	Members []string `yaml:"members,omitempty"`
}

// Step operations.
const (
	OpPush     = "push"
	OpCreate   = "create"
	OpAdd      = "add"
	OpRemove   = "remove"
	OpDelete   = "delete"
	OpRollback = "rollback"
	OpUnload   = "unload"
	OpSet      = "set"
	OpFetch    = "fetch"
	OpPreload  = "preload"
	OpServe    = "serve"
)

// Assertion validates final engine state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "members": effective members of record.field equal Members
	// - "canonical": canonical members of record.field equal Members
	// - "attributes": record attributes contain Attributes (subset match)
	// - "dirty", "deleted", "loaded": the flag equals Value
	// - "absent": record is not in the identity map
	// - "symmetric": every inverse pair agrees
	Type string `yaml:"type"`

	Record string `yaml:"record,omitempty"`
	Field  string `yaml:"field,omitempty"`

	// Members are expected member keys, in order. References may be
	// aliases. An empty list asserts no members.
	Members []string `yaml:"members,omitempty"`

	Attributes map[string]any `yaml:"attributes,omitempty"`

	Value *bool `yaml:"value,omitempty"`
}

// Assertion type constants.
const (
	AssertMembers    = "members"
	AssertCanonical  = "canonical"
	AssertAttributes = "attributes"
	AssertDirty      = "dirty"
	AssertDeleted    = "deleted"
	AssertLoaded     = "loaded"
	AssertAbsent     = "absent"
	AssertSymmetric  = "symmetric"
)

// LoadScenario reads and parses a scenario YAML file.
// A relative schema path is resolved against the scenario's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the schema path relative to the provided base path.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Schema != "" && !filepath.IsAbs(scenario.Schema) && basePath != "" {
		scenario.Schema = filepath.Join(basePath, scenario.Schema)
	}
	if scenario.Schema != "" {
		if _, err := os.Stat(scenario.Schema); os.IsNotExist(err) {
			return nil, fmt.Errorf("invalid scenario: schema file not found: %s", scenario.Schema)
		}
	}

	return scenario, nil
}

// ParseScenario decodes and validates scenario YAML. Schema paths are left
// as written.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Schema == "" && strings.TrimSpace(s.SchemaSource) == "" {
		return fmt.Errorf("schema or schema_source is required")
	}
	if s.Schema != "" && s.SchemaSource != "" {
		return fmt.Errorf("schema and schema_source are mutually exclusive")
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	for i, f := range s.Server {
		if !isKeyRef(f.Record) {
			return fmt.Errorf("server[%d]: record must be \"type:id\", got %q", i, f.Record)
		}
	}

	aliases := map[string]bool{}
	for i, step := range s.Flow {
		if err := validateStep(i, &step, aliases); err != nil {
			return err
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}

	return nil
}

// validateStep checks the fields each op needs. Aliases must be bound by an
// earlier create step.
func validateStep(i int, step *Step, aliases map[string]bool) error {
	needRecord := func() error {
		if step.Record == "" {
			return fmt.Errorf("flow[%d]: record is required for %s", i, step.Op)
		}
		return checkRef(fmt.Sprintf("flow[%d].record", i), step.Record, aliases)
	}

	switch step.Op {
	case OpPush, OpServe:
		if !isKeyRef(step.Record) {
			return fmt.Errorf("flow[%d]: %s needs record \"type:id\", got %q", i, step.Op, step.Record)
		}
	case OpCreate:
		if step.Type == "" {
			return fmt.Errorf("flow[%d]: type is required for create", i)
		}
		if step.As != "" {
			aliases[step.As] = true
		}
	case OpAdd, OpRemove:
		if err := needRecord(); err != nil {
			return err
		}
		if step.Field == "" {
			return fmt.Errorf("flow[%d]: field is required for %s", i, step.Op)
		}
		if step.Member == "" {
			return fmt.Errorf("flow[%d]: member is required for %s", i, step.Op)
		}
		if err := checkRef(fmt.Sprintf("flow[%d].member", i), step.Member, aliases); err != nil {
			return err
		}
	case OpFetch:
		if err := needRecord(); err != nil {
			return err
		}
		if step.Field == "" {
			return fmt.Errorf("flow[%d]: field is required for fetch", i)
		}
	case OpSet:
		if err := needRecord(); err != nil {
			return err
		}
		if step.Attribute == "" {
			return fmt.Errorf("flow[%d]: attribute is required for set", i)
		}
	case OpDelete, OpRollback, OpUnload, OpPreload:
		if err := needRecord(); err != nil {
			return err
		}
	case "":
		return fmt.Errorf("flow[%d]: op is required", i)
	default:
		return fmt.Errorf("flow[%d]: unknown op %q", i, step.Op)
	}

	if step.Expect != nil {
		for j, m := range step.Expect.Members {
			if err := checkRef(fmt.Sprintf("flow[%d].expect.members[%d]", i, j), m, aliases); err != nil {
				return err
			}
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertSymmetric:
		return nil
	case AssertMembers, AssertCanonical, AssertLoaded:
		if a.Record == "" || a.Field == "" {
			return fmt.Errorf("assertions[%d]: record and field are required for %s", index, a.Type)
		}
	case AssertAttributes:
		if a.Record == "" {
			return fmt.Errorf("assertions[%d]: record is required for attributes", index)
		}
		if len(a.Attributes) == 0 {
			return fmt.Errorf("assertions[%d]: attributes is required for attributes", index)
		}
	case AssertDirty, AssertDeleted, AssertAbsent:
		if a.Record == "" {
			return fmt.Errorf("assertions[%d]: record is required for %s", index, a.Type)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if a.Type != AssertAbsent && a.Type != AssertMembers && a.Type != AssertCanonical &&
		a.Type != AssertAttributes && a.Value == nil {
		return fmt.Errorf("assertions[%d]: value is required for %s", index, a.Type)
	}
	return nil
}

func isKeyRef(ref string) bool {
	typ, id, ok := strings.Cut(ref, ":")
	return ok && typ != "" && id != "" && !strings.HasPrefix(ref, "@")
}

func checkRef(field, ref string, aliases map[string]bool) error {
	if name, ok := strings.CutPrefix(ref, "@"); ok {
		if !aliases[name] {
			return fmt.Errorf("%s: alias %q is not bound by an earlier create", field, name)
		}
		return nil
	}
	if !isKeyRef(ref) {
		return fmt.Errorf("%s: reference must be \"type:id\" or \"@alias\", got %q", field, ref)
	}
	return nil
}
