package cmd

import (
	"errors"
	"fmt"

	"github.com/opd-ai/tagmesh/node"
	"github.com/opd-ai/tagmesh/transport"
	"github.com/spf13/cobra"
)

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Read the drop directory and print received messages.",
	Args:  cobra.NoArgs,
	RunE:  inbox,
}

func init() {
	RootCmd.AddCommand(inboxCmd)
	inboxCmd.Flags().String("contact", "", "Only show messages from this contact id")
	inboxCmd.Flags().Bool("no-read", false, "Do not scan the drop directory first")
}

func inbox(cmd *cobra.Command, args []string) error {
	var only transport.ContactID
	if v, _ := cmd.Flags().GetString("contact"); v != "" {
		c, err := parseContactID(v)
		if err != nil {
			return err
		}
		only = c
	}

	n, err := loadNode(cmd, nil)
	if err != nil {
		return err
	}
	defer n.Close()

	if noRead, _ := cmd.Flags().GetBool("no-read"); !noRead {
		if err := n.ReadFiles(); err != nil && !errors.Is(err, node.ErrTransportDisabled) {
			return err
		}
	}

	contacts, err := n.Contacts()
	if err != nil {
		return err
	}
	for _, c := range contacts {
		if only != 0 && c.ID != only {
			continue
		}
		if err := printMessages(cmd, n, c.ID, c.Name); err != nil {
			return err
		}
	}
	return nil
}

func printMessages(cmd *cobra.Command, n *node.Node, c transport.ContactID, name string) error {
	msgs, err := n.Inbox(c)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n", m.Timestamp.Format("2006-01-02 15:04:05"), name, m.Body)
	}
	return nil
}
