package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/parley"
)

// resetFlags undoes values left behind by a previous Execute on the shared command tree.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "parley version "+parley.Version+"\n", out)
}

func TestChat_OneShot(t *testing.T) {
	t.Setenv("PARLEY_STORE", "memory")
	t.Setenv("PARLEY_STATIC_REPLY", "")

	out, err := execute(t, "chat", "--config", "", "hello", "there")
	require.NoError(t, err)
	assert.Equal(t, "You said: hello there\n", out)
}

func TestRun_Wait(t *testing.T) {
	t.Setenv("PARLEY_STATIC_REPLY", "pong")

	out, err := execute(t, "run", "--config", "", "--store", "memory", "--wait", "ping")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out, " completed: pong\n"), out)
}

func TestSessionCommands_FileStore(t *testing.T) {
	t.Setenv("PARLEY_STORE", "file")
	t.Setenv("PARLEY_FILE_DIR", t.TempDir())
	t.Setenv("PARLEY_STATIC_REPLY", "ok")

	_, err := execute(t, "chat", "--config", "", "-s", "alpha", "hi")
	require.NoError(t, err)

	out, err := execute(t, "session", "ls", "--config", "")
	require.NoError(t, err)
	assert.Contains(t, out, "- alpha")

	out, err = execute(t, "history", "alpha", "--config", "", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"user": "hi"`)

	out, err = execute(t, "session", "rm", "--config", "", "alpha")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed session 'alpha'")

	out, err = execute(t, "session", "ls", "--config", "")
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions found.")
}

func TestUnknownStore(t *testing.T) {
	_, err := execute(t, "session", "ls", "--config", "", "--store", "sqlite")
	assert.Error(t, err)
}
