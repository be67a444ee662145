package cmd

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/esload/internal/config"
	"github.com/dbsmedya/esload/internal/source"
)

func TestValidateCommandStructure(t *testing.T) {
	assert.NotNil(t, validateCmd)
	assert.Equal(t, "validate", validateCmd.Use)
	assert.NotEmpty(t, validateCmd.Short)
	assert.NotEmpty(t, validateCmd.Long)
	assert.NotNil(t, validateCmd.RunE)
}

func TestValidateIsAddedToRoot(t *testing.T) {
	found := false
	for _, cmd := range rootCmd.Commands() {
		if cmd.Name() == "validate" {
			found = true
			break
		}
	}
	assert.True(t, found, "validate command should be added to root command")
}

func TestValidateCommandChecks(t *testing.T) {
	doc := validateCmd.Long
	assert.Contains(t, doc, "Checks performed")
	assert.Contains(t, doc, "Source database connectivity")
	assert.Contains(t, doc, "Elasticsearch connectivity")
	assert.Contains(t, doc, "esload validate")
}

func setValidateFlags(t *testing.T, job string, offline bool) {
	t.Helper()
	origJob, origOffline := validateJob, validateOffline
	t.Cleanup(func() { validateJob, validateOffline = origJob, origOffline })
	validateJob, validateOffline = job, offline
}

func TestRunValidate_SingleJob(t *testing.T) {
	newTestEnv(t)
	setValidateFlags(t, "people", false)

	cmd, buf := newTestCommand()
	require.NoError(t, runValidate(cmd, nil))

	out := buf.String()
	assert.Contains(t, out, "Configuration valid")
	assert.Contains(t, out, "Source database reachable (sqlite)")
	assert.Contains(t, out, "cluster indextest-cluster, version 8.15.0")
	assert.Contains(t, out, "--- Job: people ---")
	assert.Contains(t, out, "All jobs validated successfully")
}

func TestRunValidate_ReportsBrokenJob(t *testing.T) {
	newTestEnv(t)
	setValidateFlags(t, "", false)

	cmd, buf := newTestCommand()
	err := runValidate(cmd, nil)
	require.Error(t, err)

	out := buf.String()
	assert.Contains(t, out, "--- Job: broken ---")
	assert.Contains(t, out, "query rejected")
	assert.Contains(t, out, "--- Job: renamed ---")
}

func TestRunValidate_OfflineSkipsConnections(t *testing.T) {
	env := newTestEnv(t)
	setValidateFlags(t, "", true)

	cmd, buf := newTestCommand()
	require.NoError(t, runValidate(cmd, nil))

	out := buf.String()
	assert.NotContains(t, out, "Source database reachable")
	assert.Contains(t, out, "All jobs validated successfully")
	assert.Equal(t, 0, env.Server.BulkRequests())
}

func TestRunValidate_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
source:
  driver: oracle
jobs:
  people:
    index: People
`), 0o644))
	useConfig(t, path)
	setValidateFlags(t, "", true)

	cmd, buf := newTestCommand()
	err := runValidate(cmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source.driver")
	assert.Contains(t, err.Error(), "jobs.people.query")
	assert.Contains(t, buf.String(), "Configuration invalid")
}

func TestCheckJob_MissingColumns(t *testing.T) {
	env := newTestEnv(t)

	db, err := sql.Open("sqlite", filepath.Join(env.Dir, "people.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	src := source.New(db, config.DriverSQLite)

	job := &config.JobConfig{
		Index:        "people",
		Query:        "SELECT uuid, name FROM people",
		IDField:      "id",
		RenameFields: []config.FieldRename{{From: "name", To: "full_name"}, {From: "nickname", To: "alias"}},
	}
	problems := checkJob(context.Background(), src, job)
	require.Len(t, problems, 2)
	assert.Contains(t, problems[0], `id column "id"`)
	assert.Contains(t, problems[1], `renamed column "nickname"`)

	job.IDField = ""
	job.RenameFields = job.RenameFields[:1]
	assert.Empty(t, checkJob(context.Background(), src, job))

	job.Query = "SELECT name FROM people"
	job.IDField = config.NoIDField
	assert.Empty(t, checkJob(context.Background(), src, job), "no id column needed when ids are assigned by the cluster")
}

func TestCheckJob_Offline(t *testing.T) {
	job := &config.JobConfig{OpType: "upsert", MappingFile: "/nonexistent/mapping.json"}
	assert.Len(t, checkJob(context.Background(), nil, job), 2)
}
