package cli

import (
	"bytes"
	"errors"
	"testing"

	"github.com/opd-ai/tagmesh/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandConfigFlag(t *testing.T) {
	root := NewRootCommand("tagmesh", "short", "long")
	var got string
	root.AddCommand(NewRunCommand("tagmesh", "", func(cmd *cobra.Command, args []string) error {
		got = ConfigPath(cmd)
		return nil
	}))

	root.SetArgs([]string{"run"})
	require.NoError(t, root.Execute())
	assert.Equal(t, config.DefaultFileName, got)

	root.SetArgs([]string{"--config", "other.toml", "run"})
	require.NoError(t, root.Execute())
	assert.Equal(t, "other.toml", got)
}

func TestRunFuncErrorPropagates(t *testing.T) {
	root := NewRootCommand("tagmesh", "short", "long")
	boom := errors.New("boom")
	root.AddCommand(NewInitCommand("tagmesh", func(cmd *cobra.Command, args []string) error {
		return boom
	}))
	root.SetArgs([]string{"init"})
	assert.ErrorIs(t, root.Execute(), boom)
}

func TestVersionCommand(t *testing.T) {
	root := NewRootCommand("tagmesh", "short", "long")
	root.AddCommand(NewVersionCommand("tagmesh"))
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, "tagmesh v"+Version+"\n", out.String())
}
