package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"run", "serve", "migrate", "company", "jobs"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "diligence-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRunCommand_Flags(t *testing.T) {
	flag := runCmd.Flags().Lookup("company")
	require.NotNil(t, flag, "run command should have --company flag")

	jsonFlag := runCmd.Flags().Lookup("json")
	require.NotNil(t, jsonFlag)
	assert.Equal(t, "false", jsonFlag.DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestCompanyCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range companyCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"import", "show", "delete"} {
		assert.True(t, names[name], "company should have subcommand %q", name)
	}
}

func TestJobsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range jobsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"status", "list", "snapshot", "agents", "activity", "tools"} {
		assert.True(t, names[name], "jobs should have subcommand %q", name)
	}
}

func TestJobsListCommand_Flags(t *testing.T) {
	for _, flagName := range []string{"company", "status", "since", "limit"} {
		assert.NotNil(t, jobsListCmd.Flags().Lookup(flagName), "jobs list should have --%s flag", flagName)
	}
	assert.Equal(t, "50", jobsActivityCmd.Flags().Lookup("limit").DefValue)
}
