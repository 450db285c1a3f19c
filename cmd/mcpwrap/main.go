package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/petal-labs/mcpwrap/cli"
)

// Set via ldflags at build time.
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mcpwrap",
	Short: "Transparent supervising MCP proxy",
	Long: "mcpwrap wraps an MCP server process, forwarding its tools upstream while " +
		"capturing traffic into an inspectable log and restarting the child on demand.",
	// SilenceUsage prevents printing usage on every error
	SilenceUsage: true,
}

func init() {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("mcpwrap version %s\n", version))

	rootCmd.AddCommand(cli.NewRunCmd(version))
}
