package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/tandem/internal/compiler"
	"github.com/roach88/tandem/internal/schema"
)

// Error codes for failures that are not model validation problems.
const (
	ErrCodeGeneric     = "E001" // CUE syntax or evaluation error
	ErrCodeNotFound    = "E002" // schema file missing
	ErrCodeUnresolved  = "E207" // unknown target type or inverse mismatch
	ErrCodeTestFailed  = "E_TEST_FAILED"
	ErrCodeRunFailed   = "E_SCENARIO_FAILED"
	ErrCodeSeedFailed  = "E_SEED_FAILED"
	ErrCodeStoreFailed = "E_STORE"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool                       `json:"valid"`
	Models []ModelSummary             `json:"models,omitempty"`
	Errors []compiler.ValidationError `json:"errors,omitempty"`
}

// ModelSummary describes one compiled model.
type ModelSummary struct {
	Name          string   `json:"name"`
	Attributes    int      `json:"attributes"`
	Relationships []string `json:"relationships"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <schema.cue>",
		Short: "Validate a model schema",
		Long: `Compile a CUE model schema and report every problem found.

Checks CUE syntax, model and field names, relationship targets and
cardinalities, attribute types, and that every inverse pair agrees.

Exit codes:
  0 - Schema is valid
  1 - Schema has validation errors
  2 - Command error (file not found, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if _, err := os.Stat(path); err != nil {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("schema file not found: %s", path), nil)
		return WrapExitError(ExitCommandError, "schema file not found", err)
	}

	formatter.VerboseLog("Compiling %s", path)
	reg, err := compiler.CompileFile(path)
	if err != nil {
		return outputValidationErrors(formatter, toValidationErrors(err))
	}

	result := ValidationResult{Valid: true, Models: summarize(reg)}
	if formatter.JSON() {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ Schema valid: %d model(s)\n", len(result.Models))
	if opts.Verbose {
		for _, m := range result.Models {
			fmt.Fprintf(formatter.Writer, "  %s: %d attribute(s), relationships %v\n", m.Name, m.Attributes, m.Relationships)
		}
	}
	return nil
}

// toValidationErrors flattens a compile failure into validation errors.
func toValidationErrors(err error) []compiler.ValidationError {
	var verrs compiler.ValidationErrors
	if errors.As(err, &verrs) {
		return verrs
	}
	var cerr *compiler.CompileError
	if errors.As(err, &cerr) {
		line := 0
		if cerr.Pos.IsValid() {
			line = cerr.Pos.Line()
		}
		return []compiler.ValidationError{{
			Field:   cerr.Field,
			Message: cerr.Message,
			Code:    ErrCodeGeneric,
			Line:    line,
		}}
	}
	code := ErrCodeGeneric
	if errors.Is(err, schema.ErrUnknownType) || errors.Is(err, schema.ErrInverseMismatch) {
		code = ErrCodeUnresolved
	}
	return []compiler.ValidationError{{Field: "schema", Message: err.Error(), Code: code}}
}

func summarize(reg *schema.Registry) []ModelSummary {
	types := reg.Types()
	out := make([]ModelSummary, 0, len(types))
	for _, typ := range types {
		m, err := reg.Model(typ)
		if err != nil {
			continue
		}
		rels := make([]string, 0, len(m.Fields))
		for _, f := range m.Fields {
			rels = append(rels, f.Name)
		}
		out = append(out, ModelSummary{Name: m.Name, Attributes: len(m.Attributes), Relationships: rels})
	}
	return out
}

// outputValidationErrors outputs every validation error and returns the
// failure exit code.
func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	exitErr := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))

	if formatter.JSON() {
		if err := formatter.Failure(ValidationResult{Valid: false, Errors: errs}, errs[0].Code, errs[0].Message); err != nil {
			return err
		}
		return exitErr
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", err.Code, err.Field, err.Message)
	}
	return exitErr
}
