package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/tandem/internal/engine"
	"github.com/roach88/tandem/internal/harness"
	"github.com/roach88/tandem/internal/ir"
	"github.com/roach88/tandem/internal/metrics"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Metrics bool
}

// RunReport is the JSON form of a single scenario run.
type RunReport struct {
	Name string `json:"name"`
	// Digest identifies the final engine state; equal digests mean equal
	// snapshots.
	Digest string `json:"digest"`
	*harness.Result
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run one scenario and print its trace and final state",
		Long: `Run a scenario against the relationship engine.

The scenario's server fixtures are written into a fresh in-memory store,
or on top of the store named by --db. Each flow step is executed and
checked, symmetry is verified after every step, and the final snapshot
of the identity map is printed.

Example:
  tandem run ./testdata/scenarios/local_sync_edit.yaml
  tandem run --db ./server.db --metrics ./scenario.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioFile(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "print engine metrics after the run")

	return cmd
}

func runScenarioFile(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	cfg := opts.Config

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	var reg *prometheus.Registry
	harnessOpts := harnessOptions(cfg, formatter.GetErrWriter())
	if cfg.Metrics {
		reg = prometheus.NewRegistry()
		harnessOpts = append(harnessOpts, harness.WithEngineOptions(engine.WithMetrics(metrics.New(reg))))
	}

	result, err := harness.Run(scenario, harnessOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to run scenario", err)
	}

	digest, err := ir.Digest(result.State.Canonical())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to digest state", err)
	}
	report := RunReport{Name: scenario.Name, Digest: digest, Result: result}
	if formatter.JSON() {
		if result.Pass {
			err = formatter.Success(report)
		} else {
			err = formatter.Failure(report, ErrCodeRunFailed, fmt.Sprintf("%d error(s)", len(result.Errors)))
		}
		if err != nil {
			return err
		}
	} else {
		if err := writeRunText(formatter.Writer, report); err != nil {
			return err
		}
		if reg != nil {
			if err := writeMetrics(formatter.Writer, reg); err != nil {
				return err
			}
		}
	}

	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", scenario.Name))
	}
	return nil
}

// harnessOptions maps the CLI configuration onto harness and engine options.
func harnessOptions(cfg *Config, logOut io.Writer) []harness.Option {
	opts := []harness.Option{harness.WithLogger(cfg.NewLogger(logOut))}
	if cfg.DB != "" {
		opts = append(opts, harness.WithDatabase(cfg.DB))
	}
	if cfg.FetchTimeout > 0 {
		opts = append(opts, harness.WithEngineOptions(engine.WithFetchTimeout(cfg.FetchTimeout)))
	}
	return opts
}

func writeRunText(w io.Writer, report RunReport) error {
	mark := "✓"
	if !report.Pass {
		mark = "✗"
	}
	fmt.Fprintf(w, "%s %s\n", mark, report.Name)

	fmt.Fprintln(w, "\nTrace:")
	for _, ev := range report.Trace {
		line := fmt.Sprintf("  [%d] %s", ev.Step, ev.Op)
		if ev.Record != "" {
			line += " " + ev.Record
		}
		if ev.Field != "" {
			line += "." + ev.Field
		}
		if ev.Member != "" {
			line += " " + ev.Member
		}
		if ev.Members != nil {
			line += " => [" + strings.Join(ev.Members, ", ") + "]"
		}
		if ev.Error != "" {
			line += " -> " + ev.Error
		}
		fmt.Fprintln(w, line)
	}

	fmt.Fprintf(w, "\nState (%s):\n", report.Digest[:12])
	for _, rec := range report.State.Records {
		flags := []string{}
		if rec.New {
			flags = append(flags, "new")
		}
		if rec.Deleted {
			flags = append(flags, "deleted")
		}
		if !rec.Materialized {
			flags = append(flags, "empty")
		}
		fmt.Fprintf(w, "  %s %v\n", rec.Key, flags)
		for _, f := range rec.Fields {
			fmt.Fprintf(w, "    %s: [%s]", f.Name, strings.Join(f.Effective, ", "))
			if len(f.Additions) > 0 {
				fmt.Fprintf(w, " +[%s]", strings.Join(f.Additions, ", "))
			}
			if len(f.Removals) > 0 {
				fmt.Fprintf(w, " -[%s]", strings.Join(f.Removals, ", "))
			}
			if !f.Loaded {
				fmt.Fprint(w, " (not loaded)")
			}
			fmt.Fprintln(w)
		}
	}

	if len(report.Errors) > 0 {
		fmt.Fprintln(w, "\nErrors:")
		for _, e := range report.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
	return nil
}

// writeMetrics prints every gathered counter and histogram sample count.
func writeMetrics(w io.Writer, reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	fmt.Fprintln(w, "\nMetrics:")
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, l := range m.GetLabel() {
				labels = append(labels, l.GetName()+"="+l.GetValue())
			}
			name := mf.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}
			switch {
			case m.GetCounter() != nil:
				fmt.Fprintf(w, "  %s %g\n", name, m.GetCounter().GetValue())
			case m.GetHistogram() != nil:
				fmt.Fprintf(w, "  %s count=%d\n", name, m.GetHistogram().GetSampleCount())
			}
		}
	}
	return nil
}
