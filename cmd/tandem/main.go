// Package main provides the tandem CLI.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/tandem/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
