package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecute(t *testing.T) {
	// Execute calls os.Exit(1) on error, so only its presence is checked here.
	assert.NotNil(t, Execute)
}

func TestVersionVariables(t *testing.T) {
	assert.NotEmpty(t, Version, "Version should not be empty")
	assert.NotEmpty(t, Commit, "Commit should not be empty")
}

func TestCLIFlagsVariables(t *testing.T) {
	assert.Equal(t, "esload.yaml", cfgFile, "cfgFile should default to esload.yaml")
	assert.Equal(t, ".env", envFile)
	assert.Equal(t, "", logLevel)
	assert.Equal(t, "", logFormat)

	assert.Equal(t, 0, batchSize)
	assert.Equal(t, 0, fetchSize)
	assert.Equal(t, float64(0), sleepSeconds)
}

func TestAllCommandsRegistered(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"load", "dry-run", "create-index", "index-doc", "search", "validate", "list-jobs", "version"} {
		assert.True(t, names[want], "%s should be registered", want)
	}
}
