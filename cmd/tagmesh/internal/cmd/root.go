// Package cmd implements the tagmesh subcommands.
package cmd

import (
	"fmt"
	"strconv"

	"github.com/opd-ai/tagmesh/cli"
	"github.com/opd-ai/tagmesh/config"
	"github.com/opd-ai/tagmesh/node"
	"github.com/opd-ai/tagmesh/transport"
	"github.com/spf13/cobra"
)

// RootCmd is the "tagmesh" command.
var RootCmd = cli.NewRootCommand("tagmesh",
	"Unlinkable message exchange over LAN and file drops",
	`tagmesh exchanges messages with paired contacts over TCP connections and
shared directories. Every stream starts with a pseudorandom tag that only
the intended recipient can recognise.`)

var versionCmd = cli.NewVersionCommand("tagmesh")

func init() {
	RootCmd.AddCommand(versionCmd)
}

// loadNode loads the configuration named by --config, applies its logging
// settings and opens the node.
func loadNode(cmd *cobra.Command, adjust func(*config.Config)) (*node.Node, error) {
	conf, err := config.Load(cli.ConfigPath(cmd))
	if err != nil {
		return nil, err
	}
	passphrase, ok, err := askPassphrase(cmd)
	if err != nil {
		return nil, err
	}
	if ok {
		conf.Passphrase = passphrase
	}
	if adjust != nil {
		adjust(conf)
	}
	if err := conf.ConfigureLogging(); err != nil {
		return nil, err
	}
	return node.Open(conf)
}

func contactFlag(cmd *cobra.Command) (transport.ContactID, error) {
	v, err := cmd.Flags().GetString("contact")
	if err != nil {
		return 0, err
	}
	return parseContactID(v)
}

func parseContactID(v string) (transport.ContactID, error) {
	id, err := strconv.ParseUint(v, 10, 31)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid contact id %q", v)
	}
	return transport.ContactID(id), nil
}
