package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/opd-ai/tagmesh/cli"
	"github.com/opd-ai/tagmesh/config"
	"github.com/opd-ai/tagmesh/node"
	"github.com/spf13/cobra"
)

var initCmd = cli.NewInitCommand("tagmesh", initRunFunc)

func init() {
	RootCmd.AddCommand(initCmd)
	initCmd.Flags().StringP("passphrase", "p", "", "Passphrase sealing the database (or set "+config.PassphraseEnv+")")
	initCmd.Flags().BoolP("force", "f", false, "Overwrite an existing configuration file")
}

func initRunFunc(cmd *cobra.Command, args []string) error {
	path := cli.ConfigPath(cmd)
	force, _ := cmd.Flags().GetBool("force")
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists, use --force to overwrite", path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	conf := config.Default()
	conf.Passphrase, _ = cmd.Flags().GetString("passphrase")
	if err := config.Save(path, conf); err != nil {
		return err
	}
	// Passphrases from the environment or the terminal are not written out
	if p := os.Getenv(config.PassphraseEnv); p != "" {
		conf.Passphrase = p
	}
	passphrase, ok, err := askPassphrase(cmd)
	if err != nil {
		return err
	}
	if ok {
		conf.Passphrase = passphrase
	}

	n, err := node.Open(conf)
	if err != nil {
		return err
	}
	defer n.Close()
	pub := n.PublicKey()
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\nPublic key: %x\n", path, pub[:])
	return nil
}
