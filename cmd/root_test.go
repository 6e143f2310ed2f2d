package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	// Collect subcommand names.
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	// Verify expected subcommands are registered.
	expected := []string{"fuse", "normalize", "validate", "runs", "report"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "fusion-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestFuseCommand_Flags(t *testing.T) {
	for _, name := range []string{"noaa-dir", "who-dir", "cmip5-dir", "regions", "stations", "out", "resume"} {
		flag := fuseCmd.Flags().Lookup(name)
		require.NotNil(t, flag, "fuse command should have --%s flag", name)
	}
}

func TestNormalizeCommand_Flags(t *testing.T) {
	for _, name := range []string{"noaa-dir", "who-dir", "cmip5-dir", "regions", "stations", "out"} {
		flag := normalizeCmd.Flags().Lookup(name)
		require.NotNil(t, flag, "normalize command should have --%s flag", name)
	}
}

func TestValidateCommand_Flags(t *testing.T) {
	flag := validateCmd.Flags().Lookup("out")
	require.NotNil(t, flag, "validate command should have --out flag")
}

func TestRunsCommand_HasSubcommands(t *testing.T) {
	cmds := runsCmd.Commands()
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"list", "show", "stats", "prune"}
	for _, name := range expected {
		assert.True(t, names[name], "runs should have subcommand %q", name)
	}
}

func TestRunsListCommand_Flags(t *testing.T) {
	limit := runsListCmd.Flags().Lookup("limit")
	require.NotNil(t, limit, "runs list should have --limit flag")
	assert.Equal(t, "50", limit.DefValue)

	status := runsListCmd.Flags().Lookup("status")
	require.NotNil(t, status, "runs list should have --status flag")
}
