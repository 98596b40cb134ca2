package cmd

import (
	"encoding/hex"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var addContactCmd = &cobra.Command{
	Use:   "add-contact",
	Short: "Pair with a contact.",
	Long: `Pair with a contact using their public key and an invitation code
agreed out of band. Exactly one side passes --initiator. Compare the
printed confirmation codes with the contact before trusting the pairing.`,
	Args: cobra.NoArgs,
	RunE: addContact,
}

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "List paired contacts.",
	Args:  cobra.NoArgs,
	RunE:  listContacts,
}

var removeContactCmd = &cobra.Command{
	Use:   "remove-contact",
	Short: "Forget a contact with its secrets and messages.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := contactFlag(cmd)
		if err != nil {
			return err
		}
		n, err := loadNode(cmd, nil)
		if err != nil {
			return err
		}
		defer n.Close()
		return n.RemoveContact(c)
	},
}

func init() {
	RootCmd.AddCommand(addContactCmd, contactsCmd, removeContactCmd)
	addContactCmd.Flags().StringP("name", "n", "", "Local name for the contact")
	addContactCmd.Flags().StringP("pubkey", "k", "", "Contact's public key in hex")
	addContactCmd.Flags().Uint32P("code", "i", 0, "Invitation code agreed with the contact")
	addContactCmd.Flags().Bool("initiator", false, "Take the initiator role in this pairing")
	removeContactCmd.Flags().String("contact", "", "Contact id")
}

func parsePublicKey(s string) ([32]byte, error) {
	var pub [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return pub, fmt.Errorf("public key: %w", err)
	}
	if len(b) != len(pub) {
		return pub, fmt.Errorf("public key must be %d bytes, got %d", len(pub), len(b))
	}
	copy(pub[:], b)
	return pub, nil
}

func addContact(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("name")
	if name == "" {
		return errors.New("--name is required")
	}
	keyHex, _ := cmd.Flags().GetString("pubkey")
	pub, err := parsePublicKey(keyHex)
	if err != nil {
		return err
	}
	code, _ := cmd.Flags().GetUint32("code")
	initiator, _ := cmd.Flags().GetBool("initiator")

	n, err := loadNode(cmd, nil)
	if err != nil {
		return err
	}
	defer n.Close()
	p, err := n.AddContact(name, pub, code, initiator)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Contact id:  %d\nYour code:   %06d\nTheir code:  %06d\n",
		p.Contact, p.OurCode, p.TheirCode)
	return nil
}

func listContacts(cmd *cobra.Command, args []string) error {
	n, err := loadNode(cmd, nil)
	if err != nil {
		return err
	}
	defer n.Close()
	contacts, err := n.Contacts()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPUBLIC KEY\tADDED")
	for _, c := range contacts {
		fmt.Fprintf(w, "%d\t%s\t%x\t%s\n", c.ID, c.Name, c.PublicKey[:8], c.Added.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}
