package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/opd-ai/tagmesh/cli"
	"github.com/opd-ai/tagmesh/db"
	"github.com/opd-ai/tagmesh/transport"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var runCmd = cli.NewRunCommand("tagmesh",
	`Run a tagmesh node.

The node listens for TCP connections and watches the drop directory
until interrupted, printing every message it receives.`, run)

func init() {
	RootCmd.AddCommand(runCmd)
}

func run(cmd *cobra.Command, args []string) error {
	n, err := loadNode(cmd, nil)
	if err != nil {
		return err
	}
	defer n.Close()

	out := cmd.OutOrStdout()
	n.Messages().OnMessage(func(c transport.ContactID, m *db.Message) {
		fmt.Fprintf(out, "[%s] contact %d: %s\n", m.Timestamp.Format("2006-01-02 15:04:05"), c, m.Body)
	})
	if err := n.Start(); err != nil {
		return err
	}
	if addr := n.TCPAddr(); addr != nil {
		fmt.Fprintf(out, "Listening on %s\n", addr)
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	select {
	case s := <-ch:
		logrus.WithFields(logrus.Fields{
			"function": "run",
			"signal":   s.String(),
		}).Info("Shutting down")
	case <-cmd.Context().Done():
	}
	return nil
}
