package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh/terminal"
)

func init() {
	RootCmd.PersistentFlags().Bool("ask-passphrase", false, "Read the database passphrase from the terminal")
}

// askPassphrase reads the passphrase from the terminal when --ask-passphrase
// is set. ok is false when the flag is not set.
func askPassphrase(cmd *cobra.Command) (passphrase string, ok bool, err error) {
	ask, _ := cmd.Flags().GetBool("ask-passphrase")
	if !ask {
		return "", false, nil
	}
	fd := int(os.Stdin.Fd())
	if !terminal.IsTerminal(fd) {
		return "", false, errors.New("--ask-passphrase needs a terminal on stdin")
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Passphrase: ")
	b, err := terminal.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", false, fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), true, nil
}
