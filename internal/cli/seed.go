package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/tandem/internal/compiler"
	"github.com/roach88/tandem/internal/harness"
	"github.com/roach88/tandem/internal/store"
)

// FixtureFile is the YAML layout accepted by seed.
type FixtureFile struct {
	Records []harness.Fixture `yaml:"records"`
}

// SeedResult reports what seed wrote.
type SeedResult struct {
	Database string `json:"database"`
	Written  int    `json:"written"`
	Records  int    `json:"records"`
	Links    int    `json:"links"`
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed <schema.cue> <fixtures.yaml>",
		Short: "Write server-side records into a store",
		Long: `Validate fixture records against a schema and write them into the
SQLite record store named by --db (or db in tandem.yaml). Async
relationships are later materialized from this store.

Example:
  tandem seed --db ./server.db ./schema.cue ./fixtures.yaml`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(rootOpts, args[0], args[1], cmd)
		},
	}

	return cmd
}

func runSeed(opts *RootOptions, schemaPath, fixturesPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	cfg := opts.Config
	if cfg.DB == "" {
		return NewExitError(ExitCommandError, "--db is required")
	}

	reg, err := compiler.CompileFile(schemaPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compile schema", err)
	}
	fixtures, err := loadFixtures(fixturesPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load fixtures", err)
	}

	logger := cfg.NewLogger(formatter.GetErrWriter())
	logger.Info("opening store", "path", cfg.DB)
	st, err := store.Open(cfg.DB)
	if err != nil {
		_ = formatter.Error(ErrCodeStoreFailed, err.Error(), map[string]string{"database": cfg.DB})
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	src := store.NewSource(st, reg, logger)
	for i, f := range fixtures.Records {
		typ, p, err := f.Payload()
		if err == nil {
			err = src.Write(ctx, typ, p)
		}
		if err != nil {
			_ = formatter.Error(ErrCodeSeedFailed, fmt.Sprintf("records[%d]: %v", i, err), nil)
			return WrapExitError(ExitFailure, fmt.Sprintf("records[%d]", i), err)
		}
		formatter.VerboseLog("wrote %s", f.Record)
	}

	records, links, err := st.Stats(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read store stats", err)
	}
	result := SeedResult{Database: cfg.DB, Written: len(fixtures.Records), Records: records, Links: links}
	if formatter.JSON() {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ Seeded %d record(s) into %s (%d records, %d links stored)\n",
		result.Written, result.Database, result.Records, result.Links)
	return nil
}

func loadFixtures(path string) (*FixtureFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f FixtureFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &f, nil
}
