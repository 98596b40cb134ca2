package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pubkeyCmd = &cobra.Command{
	Use:   "pubkey",
	Short: "Print the identity public key in hex.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := loadNode(cmd, nil)
		if err != nil {
			return err
		}
		defer n.Close()
		pub := n.PublicKey()
		fmt.Fprintf(cmd.OutOrStdout(), "%x\n", pub[:])
		return nil
	},
}

func init() {
	RootCmd.AddCommand(pubkeyCmd)
}
