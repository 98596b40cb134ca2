// Command tagmesh runs a tagmesh node and manages its contacts and
// messages.
package main

import (
	"github.com/opd-ai/tagmesh/cli"
	"github.com/opd-ai/tagmesh/cmd/tagmesh/internal/cmd"
)

func main() {
	cli.Execute(cmd.RootCmd)
}
