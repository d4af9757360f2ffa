package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tandem/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run every scenario in a directory",
		Long: `Run scenario files against the relationship engine.

Each scenario's expectations and assertions must hold, symmetry must hold
after every step, and when golden/<name>.golden exists next to the
scenario its trace and final state must match it byte for byte.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  tandem test ./testdata/scenarios
  tandem test ./testdata/scenarios --filter "deletion_*"
  tandem test ./testdata/scenarios --update
  tandem test ./testdata/scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runTests(opts *TestOptions, scenariosDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if _, err := os.Stat(scenariosDir); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", scenariosDir))
	}

	scenarioFiles, err := findScenarioFiles(scenariosDir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	result := TestResult{
		Scenarios: make([]ScenarioResult, 0, len(scenarioFiles)),
		Total:     len(scenarioFiles),
	}
	if len(scenarioFiles) == 0 {
		if formatter.JSON() {
			return formatter.Success(result)
		}
		fmt.Fprintln(formatter.Writer, "No scenarios found.")
		return nil
	}

	for _, scenarioFile := range scenarioFiles {
		scenResult := runScenario(scenarioFile, opts, formatter)
		result.Scenarios = append(result.Scenarios, scenResult)

		if scenResult.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if formatter.JSON() {
		return outputTestJSON(formatter, result)
	}
	return outputTestText(formatter.Writer, result)
}

// findScenarioFiles finds all YAML scenario files in a directory.
func findScenarioFiles(dir string, filter string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}

		files = append(files, path)
		return nil
	})

	return files, err
}

// runScenario executes a single scenario and returns the result.
func runScenario(scenarioFile string, opts *TestOptions, formatter *OutputFormatter) ScenarioResult {
	name := filepath.Base(scenarioFile)
	fail := func(errs ...string) ScenarioResult {
		if !formatter.JSON() {
			fmt.Fprintf(formatter.Writer, "✗ %s\n", name)
			for _, e := range errs {
				fmt.Fprintf(formatter.Writer, "  %s\n", e)
			}
		}
		return ScenarioResult{Name: name, Pass: false, Errors: errs}
	}
	pass := func(note string) ScenarioResult {
		if !formatter.JSON() {
			fmt.Fprintf(formatter.Writer, "✓ %s%s\n", name, note)
		}
		return ScenarioResult{Name: name, Pass: true}
	}

	scenario, err := harness.LoadScenario(scenarioFile)
	if err != nil {
		return fail(fmt.Sprintf("failed to load scenario: %v", err))
	}
	name = scenario.Name
	formatter.VerboseLog("Running %s", scenarioFile)

	result, err := harness.Run(scenario, harnessOptions(opts.Config, formatter.GetErrWriter())...)
	if err != nil {
		return fail(fmt.Sprintf("execution failed: %v", err))
	}

	goldenPath := goldenFilePath(scenarioFile)
	if opts.Update {
		if err := updateGoldenFile(scenario, result, goldenPath); err != nil {
			return fail(fmt.Sprintf("failed to update golden file: %v", err))
		}
		if !result.Pass {
			return fail(result.Errors...)
		}
		return pass(" (golden updated)")
	}

	if _, err := os.Stat(goldenPath); err == nil {
		match, err := compareWithGolden(scenario, result, goldenPath)
		if err != nil {
			return fail(fmt.Sprintf("golden comparison failed: %v", err))
		}
		if !match {
			return fail("trace does not match golden file (run with --update to regenerate)")
		}
	}

	if !result.Pass {
		return fail(result.Errors...)
	}
	return pass("")
}

// goldenFilePath returns the path to the golden file for a scenario.
func goldenFilePath(scenarioFile string) string {
	dir := filepath.Dir(scenarioFile)
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, "golden", name+".golden")
}

// updateGoldenFile writes the current trace and state as the golden file.
func updateGoldenFile(scenario *harness.Scenario, result *harness.Result, goldenPath string) error {
	if err := os.MkdirAll(filepath.Dir(goldenPath), 0755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}

	data, err := harness.MarshalResult(scenario.Name, result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := os.WriteFile(goldenPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

// compareWithGolden compares the result against the golden file.
func compareWithGolden(scenario *harness.Scenario, result *harness.Result, goldenPath string) (bool, error) {
	goldenData, err := os.ReadFile(goldenPath)
	if err != nil {
		return false, fmt.Errorf("failed to read golden file: %w", err)
	}

	currentData, err := harness.MarshalResult(scenario.Name, result)
	if err != nil {
		return false, fmt.Errorf("failed to marshal current result: %w", err)
	}

	return bytes.Equal(goldenData, currentData), nil
}

// outputTestJSON outputs the test result as JSON.
func outputTestJSON(formatter *OutputFormatter, result TestResult) error {
	if result.Failed == 0 {
		return formatter.Success(result)
	}

	msg := fmt.Sprintf("%d scenario(s) failed", result.Failed)
	if err := formatter.Failure(result, ErrCodeTestFailed, msg); err != nil {
		return err
	}
	return NewExitError(ExitFailure, msg)
}

// outputTestText outputs the test result as text.
func outputTestText(w io.Writer, result TestResult) error {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}

	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}
