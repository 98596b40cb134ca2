package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opd-ai/tagmesh/config"
	"github.com/opd-ai/tagmesh/plugins/file"
	"github.com/opd-ai/tagmesh/plugins/tcp"
	tsync "github.com/opd-ai/tagmesh/sync"
	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Queue a message and deliver the outbox to a contact.",
	Long: `Queue a message for a contact, then write every queued message for them
either as a stream file in the drop directory or over a TCP connection to
the contact's address. Without --message only the outbox is delivered.`,
	Args: cobra.NoArgs,
	RunE: send,
}

func init() {
	RootCmd.AddCommand(sendCmd)
	sendCmd.Flags().String("contact", "", "Contact id")
	sendCmd.Flags().StringP("message", "m", "", "Message text")
	sendCmd.Flags().StringP("transport", "t", string(file.ID), "Transport: file or lan")
	sendCmd.Flags().StringP("addr", "a", "", "Contact's TCP address for the lan transport")
	sendCmd.Flags().Duration("timeout", 30*time.Second, "Connection timeout for the lan transport")
}

func send(cmd *cobra.Command, args []string) error {
	c, err := contactFlag(cmd)
	if err != nil {
		return err
	}
	text, _ := cmd.Flags().GetString("message")
	via, _ := cmd.Flags().GetString("transport")
	addr, _ := cmd.Flags().GetString("addr")

	var adjust func(*config.Config)
	switch via {
	case string(file.ID):
	case string(tcp.ID):
		if addr == "" {
			return errors.New("--addr is required for the lan transport")
		}
		// Only dial out; leave the configured listener to "tagmesh run"
		adjust = func(conf *config.Config) {
			conf.TCP.Listen = "127.0.0.1:0"
		}
	default:
		return fmt.Errorf("unknown transport %q", via)
	}

	n, err := loadNode(cmd, adjust)
	if err != nil {
		return err
	}
	defer n.Close()

	if text != "" {
		if _, err := n.SendMessage(c, text); err != nil {
			return err
		}
	}

	var res tsync.Result
	if via == string(file.ID) {
		res, err = n.WriteFile(c)
	} else {
		if err := n.Start(); err != nil {
			return err
		}
		timeout, _ := cmd.Flags().GetDuration("timeout")
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		res, err = n.Connect(ctx, c, addr)
	}
	if err != nil {
		return err
	}
	return resultError(res)
}

func resultError(res tsync.Result) error {
	if !res.Outcome.Exception() {
		return nil
	}
	if res.Err != nil {
		return fmt.Errorf("stream ended with %s: %w", res.Outcome, res.Err)
	}
	return fmt.Errorf("stream ended with %s", res.Outcome)
}
