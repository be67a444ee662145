package cmd

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/esload/internal/config"
	"github.com/dbsmedya/esload/internal/index"
	"github.com/dbsmedya/esload/internal/indextest"
	"github.com/dbsmedya/esload/internal/loader"
)

func TestLoadCommandStructure(t *testing.T) {
	assert.NotNil(t, loadCmd)
	assert.Equal(t, "load", loadCmd.Use)
	assert.NotEmpty(t, loadCmd.Short)
	assert.NotEmpty(t, loadCmd.Long)
	assert.NotNil(t, loadCmd.RunE)
}

func TestLoadCommandFlags(t *testing.T) {
	flags := loadCmd.Flags()

	jobFlag := flags.Lookup("job")
	require.NotNil(t, jobFlag)
	assert.Equal(t, "j", jobFlag.Shorthand)

	for _, name := range []string{"force", "verify", "pipelined"} {
		f := flags.Lookup(name)
		require.NotNil(t, f, name)
		assert.Equal(t, "false", f.DefValue, name)
	}
}

func TestLoadJobFlagIsRequired(t *testing.T) {
	annotations := loadCmd.Flags().Lookup("job").Annotations
	assert.Contains(t, annotations, "cobra_annotation_bash_completion_one_required_flag")
}

func TestLoadIsAddedToRoot(t *testing.T) {
	found := false
	for _, cmd := range rootCmd.Commands() {
		if cmd.Name() == "load" {
			found = true
			break
		}
	}
	assert.True(t, found, "load command should be added to root command")
}

func setLoadFlags(t *testing.T, job string, verify, pipelined bool) {
	t.Helper()
	origJob, origForce, origVerify, origPipe := loadJob, loadForce, loadVerify, loadPipelined
	t.Cleanup(func() {
		loadJob, loadForce, loadVerify, loadPipelined = origJob, origForce, origVerify, origPipe
	})
	loadJob, loadForce, loadVerify, loadPipelined = job, false, verify, pipelined
}

func TestRunLoad_IndexesAllRows(t *testing.T) {
	for _, pipelined := range []bool{false, true} {
		t.Run(map[bool]string{false: "sequential", true: "pipelined"}[pipelined], func(t *testing.T) {
			env := newTestEnv(t)
			setLoadFlags(t, "people", true, pipelined)

			cmd, buf := newTestCommand()
			require.NoError(t, runLoad(cmd, nil))

			docs := env.Server.Docs("people")
			require.Len(t, docs, len(testPeople))
			// 5 rows in batches of 2
			assert.Equal(t, 3, env.Server.BulkRequests())
			assert.Equal(t, 1, env.Server.CreateCount("people"))

			doc, ok := env.Server.Doc("people", testPeople[0].ID)
			require.True(t, ok)
			assert.Equal(t, []string{"uuid", "name", "age"}, doc.Fields())

			out := buf.String()
			assert.Contains(t, out, "Load Complete")
			assert.Contains(t, out, "Rows Read: 5")
			assert.Contains(t, out, "Documents Indexed: 5")
			assert.Contains(t, out, "Batches Flushed: 3")
			assert.Contains(t, out, "Verification passed: 5 documents")
		})
	}
}

func TestRunLoad_BatchSizeOverride(t *testing.T) {
	env := newTestEnv(t)
	setLoadFlags(t, "people", false, false)
	batchSize = 10

	cmd, _ := newTestCommand()
	require.NoError(t, runLoad(cmd, nil))

	assert.Equal(t, 1, env.Server.BulkRequests())
	assert.Len(t, env.Server.Docs("people"), len(testPeople))
}

func TestRunLoad_ExistingIndexIsKept(t *testing.T) {
	env := newTestEnv(t)
	env.Server.CreateIndex("people")
	setLoadFlags(t, "people", false, false)

	cmd, _ := newTestCommand()
	require.NoError(t, runLoad(cmd, nil))

	assert.Equal(t, 0, env.Server.CreateCount("people"))
	assert.Len(t, env.Server.Docs("people"), len(testPeople))
}

func TestRunLoad_RenamesFields(t *testing.T) {
	env := newTestEnv(t)
	setLoadFlags(t, "renamed", false, false)

	cmd, _ := newTestCommand()
	require.NoError(t, runLoad(cmd, nil))

	doc, ok := env.Server.Doc("renamed", testPeople[1].ID)
	require.True(t, ok)
	v, _ := doc.Get("display_name")
	assert.Equal(t, testPeople[1].Name, v)
	_, found := doc.Get("full_name")
	assert.False(t, found)

	refresh := env.Server.BulkRefresh()
	require.NotEmpty(t, refresh)
	for _, r := range refresh {
		assert.Equal(t, "wait_for", r)
	}
}

func TestRunLoad_RejectedDocumentsFailTheRun(t *testing.T) {
	env := newTestEnv(t)
	env.Server.FailItems(func(a indextest.BulkAction) *indextest.ItemError {
		if a.ID == testPeople[1].ID {
			return &indextest.ItemError{Status: 400, Type: "mapper_parsing_exception", Reason: "failed to parse field [age]"}
		}
		return nil
	})
	setLoadFlags(t, "people", false, false)

	cmd, buf := newTestCommand()
	err := runLoad(cmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 failed document")

	assert.Len(t, env.Server.Docs("people"), len(testPeople)-1)
	out := buf.String()
	assert.Contains(t, out, "Success: false")
	assert.Contains(t, out, "mapper_parsing_exception")
	assert.Contains(t, out, testPeople[1].ID)
}

func TestRunLoad_QueryError(t *testing.T) {
	env := newTestEnv(t)
	setLoadFlags(t, "broken", false, false)

	cmd, _ := newTestCommand()
	err := runLoad(cmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load failed")
	assert.Empty(t, env.Server.Docs("broken"))
}

func TestRunLoad_UnknownJob(t *testing.T) {
	newTestEnv(t)
	setLoadFlags(t, "nope", false, false)

	cmd, _ := newTestCommand()
	err := runLoad(cmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `job "nope" not found`)
}

func TestRunLoad_MissingConfig(t *testing.T) {
	useConfig(t, "/nonexistent/esload.yaml")
	setLoadFlags(t, "people", false, false)

	cmd, _ := newTestCommand()
	err := runLoad(cmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestLoadOptions_Precedence(t *testing.T) {
	useConfig(t, "")
	setLoadFlags(t, "people", false, true)

	cfg := config.DefaultConfig()
	job := config.JobConfig{
		Index:  "people",
		Query:  "SELECT 1",
		OpType: "create",
		IDType: "uuid",
		Processing: &config.ProcessingConfig{
			BatchSize:   50,
			FlushPolicy: config.FlushStrict,
		},
	}
	cfg.Jobs = map[string]config.JobConfig{"people": job}
	fetchSize = 7

	opts, err := loadOptions(cfg, "people", &job)
	require.NoError(t, err)

	assert.Equal(t, index.OpCreate, opts.Op)
	assert.Equal(t, 50, opts.BatchSize)
	assert.Equal(t, 7, opts.FetchSize)
	assert.Equal(t, config.FlushStrict, opts.FlushPolicy)
	assert.True(t, opts.Pipelined)
	assert.NotNil(t, opts.IDFunc)
	assert.Nil(t, opts.Transform)
}

func TestLoadOptions_BadOpType(t *testing.T) {
	cfg := config.DefaultConfig()
	job := config.JobConfig{Index: "people", Query: "SELECT 1", OpType: "upsert"}

	_, err := loadOptions(cfg, "people", &job)
	assert.Error(t, err)
}

func TestLoadOptions_Defaults(t *testing.T) {
	useConfig(t, "")
	setLoadFlags(t, "people", false, false)

	cfg := config.DefaultConfig()
	job := config.JobConfig{Index: "people", Query: "SELECT 1", IDField: config.NoIDField}
	cfg.Jobs = map[string]config.JobConfig{"people": job}

	opts, err := loadOptions(cfg, "people", &job)
	require.NoError(t, err)
	assert.Equal(t, index.OpIndex, opts.Op)
	assert.Nil(t, opts.IDFunc, "id_field '-' lets Elasticsearch assign ids")
}

func TestRunError(t *testing.T) {
	cancelled := fmt.Errorf("read rows: %w", context.Canceled)

	err := runError(&loader.Result{Read: 7, Indexed: 4}, cancelled)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "load interrupted: 4 of 7 rows read were indexed")

	err = runError(nil, cancelled)
	assert.Contains(t, err.Error(), "before any rows were read")

	err = runError(&loader.Result{}, errors.New("boom"))
	assert.EqualError(t, err, "load failed: boom")
}

func TestPrintLoadResult_TruncatesFailures(t *testing.T) {
	res := &loader.Result{Read: 30, Indexed: 5}
	for i := range 25 {
		res.FailedDocs = append(res.FailedDocs, index.FailedAction{
			Position:  i,
			Index:     "people",
			Status:    400,
			ErrorType: "mapper_parsing_exception",
			Reason:    "bad",
		})
	}

	cmd, buf := newTestCommand()
	printLoadResult(cmd, "people", "people", res)

	out := buf.String()
	assert.Contains(t, out, "Documents Failed: 25")
	assert.Contains(t, out, "... and 5 more")
	assert.Contains(t, out, "Success: false")
}

func TestPrintLoadResult_Nil(t *testing.T) {
	cmd, buf := newTestCommand()
	printLoadResult(cmd, "people", "people", nil)
	assert.Empty(t, buf.String())
}
