package cli

import (
	"github.com/spf13/cobra"
)

// A runCommand runs an executable's main loop.
type runCommand struct {
	appName string
	long    string
	runFunc RunFunc
}

var _ cobraCommand = (*runCommand)(nil)

// NewRunCommand constructs the run command for appName.
func NewRunCommand(appName, long string, runFunc RunFunc) *cobra.Command {
	runCmd := &runCommand{
		appName: appName,
		long:    long,
		runFunc: runFunc,
	}
	return runCmd.Build()
}

// Build constructs the cobra.Command according to the runCommand's
// settings.
func (runCmd *runCommand) Build() *cobra.Command {
	cmd := cobra.Command{
		Use:   "run",
		Short: "Run a " + runCmd.appName + " instance.",
		Long:  runCmd.long,
		Args:  cobra.NoArgs,
		RunE:  runCmd.runFunc,
	}
	return &cmd
}
