package cli

import (
	"fmt"
	"os"

	"github.com/opd-ai/tagmesh/config"
	"github.com/spf13/cobra"
)

// A rootCommand executes the subcommands of an executable.
type rootCommand struct {
	use   string
	short string
	long  string
}

var _ cobraCommand = (*rootCommand)(nil)

// NewRootCommand constructs the root command. It carries the persistent
// --config flag every subcommand reads.
func NewRootCommand(use, short, long string) *cobra.Command {
	rootCmd := &rootCommand{
		use:   use,
		short: short,
		long:  long,
	}
	return rootCmd.Build()
}

// Build constructs the cobra.Command according to the rootCommand's
// settings.
func (rootCmd *rootCommand) Build() *cobra.Command {
	cmd := cobra.Command{
		Use:           rootCmd.use,
		Short:         rootCmd.short,
		Long:          rootCmd.long,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringP("config", "c", config.DefaultFileName, "Path to the node configuration file")
	return &cmd
}

// ConfigPath returns the value of the --config flag.
func ConfigPath(cmd *cobra.Command) string {
	return cmd.Flag("config").Value.String()
}

// Execute runs rootCmd and exits non-zero on error.
func Execute(rootCmd *cobra.Command) {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
