// Package cli holds the cobra command builders shared by the tagmesh
// executables.
package cli

import (
	"github.com/spf13/cobra"
)

// cobraCommand is implemented by every command builder.
type cobraCommand interface {
	Build() *cobra.Command
}

// RunFunc implements a command. A returned error is printed by Execute.
type RunFunc func(cmd *cobra.Command, args []string) error
