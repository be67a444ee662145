package cmd

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/dbsmedya/esload/internal/indextest"
)

var testPeople = []struct {
	ID   string
	Name string
	Age  int
}{
	{"0b7d6a36-3c0e-4f0a-9d53-1f1a0f6c2c01", "ada", 36},
	{"0b7d6a36-3c0e-4f0a-9d53-1f1a0f6c2c02", "grace", 45},
	{"0b7d6a36-3c0e-4f0a-9d53-1f1a0f6c2c03", "linus", 28},
	{"0b7d6a36-3c0e-4f0a-9d53-1f1a0f6c2c04", "margaret", 33},
	{"0b7d6a36-3c0e-4f0a-9d53-1f1a0f6c2c05", "ken", 51},
}

// createPeopleDB writes a sqlite database holding testPeople.
func createPeopleDB(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "people.db")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	_, err = db.ExecContext(ctx, `CREATE TABLE people (uuid TEXT PRIMARY KEY, name TEXT, age INTEGER, secret TEXT)`)
	require.NoError(t, err)
	for _, p := range testPeople {
		_, err := db.ExecContext(ctx, `INSERT INTO people VALUES (?, ?, ?, 'hidden')`, p.ID, p.Name, p.Age)
		require.NoError(t, err)
	}
	return path
}

const testConfigTemplate = `
source:
  driver: sqlite
  database: %s
elasticsearch:
  addresses:
    - %s
  max_retries: 1
  retry_backoff: 1ms
  max_backoff: 5ms
processing:
  batch_size: 2
jobs:
  people:
    index: people
    query: SELECT uuid, name, age, secret FROM people ORDER BY age
    exclude_fields: [secret]
  renamed:
    index: renamed
    query: SELECT uuid, name AS full_name FROM people
    refresh: wait_for
    rename_fields:
      - from: full_name
        to: display_name
  broken:
    index: broken
    query: SELECT uuid FROM no_such_table
logging:
  level: error
  output: stderr
`

type testEnv struct {
	Dir    string
	Config string
	Server *indextest.Server
}

// newTestEnv writes a config pointing at a fresh sqlite database and fake
// cluster, and makes it the active config file.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	srv := indextest.NewServer(t)

	cfgPath := filepath.Join(dir, "esload.yaml")
	content := fmt.Sprintf(testConfigTemplate, createPeopleDB(t, dir), srv.URL)
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))

	useConfig(t, cfgPath)
	return &testEnv{Dir: dir, Config: cfgPath, Server: srv}
}

// useConfig points the CLI at path and clears global overrides for the test.
func useConfig(t *testing.T, path string) {
	t.Helper()
	origCfg, origEnv := cfgFile, envFile
	origLevel, origFormat := logLevel, logFormat
	origBatch, origFetch, origSleep := batchSize, fetchSize, sleepSeconds
	t.Cleanup(func() {
		cfgFile, envFile = origCfg, origEnv
		logLevel, logFormat = origLevel, origFormat
		batchSize, fetchSize, sleepSeconds = origBatch, origFetch, origSleep
	})

	cfgFile, envFile = path, ""
	logLevel, logFormat = "", ""
	batchSize, fetchSize, sleepSeconds = 0, 0, 0
}

// newTestCommand returns a command whose output is captured in the buffer.
func newTestCommand() (*cobra.Command, *bytes.Buffer) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	return cmd, &buf
}
