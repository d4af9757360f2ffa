package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands and the configuration
// loaded before any subcommand runs.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string
	Database   string

	// Config is populated by the root command's PersistentPreRunE.
	Config *Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the tandem CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "tandem",
		Short: "tandem - relationship consistency engine",
		Long: `A client-side relationship engine that keeps both ends of every
relationship in agreement across server pushes, lazy loads and local edits.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			cfg, err := LoadConfig(cmd, opts.ConfigFile)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load config", err)
			}
			if opts.Verbose {
				cfg.LogLevel = slog.LevelDebug
			}
			opts.Config = cfg
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "config file (default: ./tandem.yaml)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to the SQLite record store")

	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}
