package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.elastic.co/apm/v2"

	"github.com/dbsmedya/esload/internal/config"
	"github.com/dbsmedya/esload/internal/database"
	"github.com/dbsmedya/esload/internal/index"
	"github.com/dbsmedya/esload/internal/loader"
	"github.com/dbsmedya/esload/internal/lock"
	"github.com/dbsmedya/esload/internal/logger"
	"github.com/dbsmedya/esload/internal/source"
	"github.com/dbsmedya/esload/internal/sqlutil"
	"github.com/dbsmedya/esload/internal/verifier"
)

var (
	loadJob       string
	loadForce     bool
	loadVerify    bool
	loadPipelined bool
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load the rows of a job's query into its index",
	Long: `Load runs a job: it makes sure the target index exists, streams the
rows of the job query in batches and bulk indexes every batch.

The load process follows these steps:
  1. Create the index with the job mapping unless it already exists
  2. Read rows through a server-side cursor (PostgreSQL) or a streaming query
  3. Apply field exclusions and renames
  4. Flush each full batch, and the final partial batch, through the bulk API
  5. Optionally compare source and index document counts

Documents rejected by Elasticsearch are reported individually and make the
command exit with an error once the load is complete.

Example:
  esload load --config esload.yaml --job people`,
	RunE: runLoad,
}

func init() {
	loadCmd.Flags().StringVarP(&loadJob, "job", "j", "",
		"Job name from configuration file (required)")
	loadCmd.MarkFlagRequired("job")

	loadCmd.Flags().BoolVar(&loadForce, "force", false,
		"Run even if the job lock cannot be acquired (use with caution)")
	loadCmd.Flags().BoolVar(&loadVerify, "verify", false,
		"Compare the source row count with the index document count after loading")
	loadCmd.Flags().BoolVar(&loadPipelined, "pipelined", false,
		"Read the next batch while the previous one is being indexed")

	rootCmd.AddCommand(loadCmd)
}

func runLoad(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	job, err := cfg.GetJob(loadJob)
	if err != nil {
		return err
	}

	baseLog, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer baseLog.Sync()
	log := baseLog.WithJob(loadJob)

	log.Infow("Starting load operation",
		"config", GetConfigFile(),
		"index", job.Index,
		"driver", cfg.Source.Driver,
	)

	ctx, stop := database.WithShutdownSignal(context.Background(), func(sig os.Signal) {
		log.Warnw("Received shutdown signal - stopping after the current batch", "signal", sig.String())
	})
	defer stop()

	if cfg.Elasticsearch.APM {
		tx := apm.DefaultTracer().StartTransaction("load "+loadJob, "esload")
		defer tx.End()
		ctx = apm.ContextWithTransaction(ctx, tx)
		log = log.WithTraceContext(ctx)
	}

	dbManager := database.NewManager(&cfg.Source)
	if err := dbManager.Connect(ctx); err != nil {
		return err
	}
	defer dbManager.Close()

	if !loadForce {
		jobLock := lock.NewJobLock(dbManager.Source, dbManager.Driver(), loadJob)
		switch err := jobLock.AcquireOrFail(ctx); {
		case err == nil:
			defer jobLock.Release(context.Background())
			log.Infow("Acquired advisory lock for job", "lock", jobLock.Name())
		case errors.Is(err, lock.ErrLockHeld):
			return fmt.Errorf("job '%s' is already running on another instance (use --force to override)", loadJob)
		case errors.Is(err, lock.ErrUnsupported):
			log.Debugw("Advisory locks not available for driver", "driver", dbManager.Driver())
		default:
			return fmt.Errorf("failed to acquire job lock: %w", err)
		}
	} else {
		log.Warnw("Skipping advisory lock acquisition (--force flag used)")
	}

	client, err := index.NewClient(&cfg.Elasticsearch)
	if err != nil {
		return err
	}

	mapping, err := index.LoadMapping(job.MappingFile)
	if err != nil {
		return err
	}
	created, err := index.EnsureIndex(ctx, client, job.Index, mapping)
	if err != nil {
		return fmt.Errorf("failed to ensure index: %w", err)
	}
	log.Infow("Index ready", "index", job.Index, "created", created)

	opts, err := loadOptions(cfg, loadJob, job)
	if err != nil {
		return err
	}

	bulk, err := index.NewBulkIndexer(index.BulkIndexerConfig{
		Client:           client,
		Logger:           log.Zap(),
		CompressionLevel: cfg.Elasticsearch.CompressionLevel,
		MaxRetries:       cfg.Elasticsearch.MaxRetries,
		RetryBackoff:     cfg.Elasticsearch.RetryBackoff,
		MaxBackoff:       cfg.Elasticsearch.MaxBackoff,
		Refresh:          job.Refresh,
	})
	if err != nil {
		return fmt.Errorf("failed to create bulk indexer: %w", err)
	}

	src := source.New(dbManager.Source, dbManager.Driver(),
		source.WithLogger(log),
		source.WithCursorName("esload_"+sqlutil.SanitizeIdentifier(loadJob)),
	)

	l, err := loader.New(src, bulk, opts, log)
	if err != nil {
		return err
	}

	result, runErr := l.Run(ctx)
	printLoadResult(cmd, loadJob, job.Index, result)

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			log.Warn("Load cancelled by user")
		}
		return runError(result, runErr)
	}

	if loadVerify {
		v, err := verifier.New(dbManager.Source, client, log)
		if err != nil {
			return err
		}
		res, err := v.Verify(ctx, job.Query, job.Index)
		if err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}
		if !res.Match {
			printFail(out, "Verification mismatch: %s", res)
			return fmt.Errorf("verification mismatch for index %s", job.Index)
		}
		printOK(out, "Verification passed: %d documents", res.IndexCount)
	}

	if !result.Success {
		return fmt.Errorf("load completed with %d failed document(s)", len(result.FailedDocs))
	}
	return nil
}

// loadOptions resolves a job into loader options. CLI flags win over the
// job's processing block, which wins over the global one.
func loadOptions(cfg *config.Config, jobName string, job *config.JobConfig) (loader.Options, error) {
	op, err := index.ParseOpType(job.EffectiveOpType())
	if err != nil {
		return loader.Options{}, err
	}
	o := GetCLIOverrides()
	p := cfg.ApplyJobOverrides(jobName, o.BatchSize, o.FetchSize, o.SleepSeconds)

	return loader.Options{
		Index:            job.Index,
		Query:            job.Query,
		Op:               op,
		IDFunc:           index.IDFuncFor(job.EffectiveIDField(), job.IDType),
		Transform:        loader.FieldTransform(job.ExcludeFields, job.RenameFields),
		BatchSize:        p.BatchSize,
		FetchSize:        p.EffectiveFetchSize(),
		FlushPolicy:      p.FlushPolicy,
		OnTransformError: p.OnTransformError,
		Pipelined:        p.Pipelined || loadPipelined,
		Sleep:            time.Duration(p.SleepSeconds * float64(time.Second)),
	}, nil
}

// runError maps a failed run to the command error. A cancelled run did not
// drain the query, so it is reported as a partial load.
func runError(res *loader.Result, err error) error {
	if !errors.Is(err, context.Canceled) {
		return fmt.Errorf("load failed: %w", err)
	}
	if res == nil {
		return fmt.Errorf("load interrupted before any rows were read: %w", err)
	}
	return fmt.Errorf("load interrupted: %d of %d rows read were indexed: %w", res.Indexed, res.Read, err)
}

const maxPrintedFailures = 20

func printLoadResult(cmd *cobra.Command, jobName, indexName string, res *loader.Result) {
	if res == nil {
		return
	}
	out := cmd.OutOrStdout()

	printHeader(out, "Load Complete")
	fmt.Fprintf(out, "Job: %s\n", jobName)
	fmt.Fprintf(out, "Index: %s\n", indexName)
	fmt.Fprintf(out, "Duration: %s\n", res.Duration)
	fmt.Fprintf(out, "Rows Read: %d\n", res.Read)
	fmt.Fprintf(out, "Documents Indexed: %d\n", res.Indexed)
	fmt.Fprintf(out, "Documents Failed: %d\n", len(res.FailedDocs))
	fmt.Fprintf(out, "Batches Flushed: %d\n", res.Flushes)
	if res.Retried > 0 {
		fmt.Fprintf(out, "Documents Retried: %d\n", res.Retried)
	}
	if res.Skipped > 0 {
		printWarn(out, "Rows Skipped: %d", res.Skipped)
	}
	if res.Dropped > 0 {
		printWarn(out, "Rows Dropped (strict flush policy): %d", res.Dropped)
	}

	if res.Success {
		printOK(out, "Success: true")
		return
	}
	printFail(out, "Success: false")

	if len(res.FailedDocs) == 0 {
		return
	}
	fmt.Fprintf(out, "\nFailed documents:\n")
	rows := make([][]string, 0, min(len(res.FailedDocs), maxPrintedFailures))
	for _, f := range res.FailedDocs[:min(len(res.FailedDocs), maxPrintedFailures)] {
		rows = append(rows, []string{
			fmt.Sprint(f.Position),
			f.DocumentID,
			fmt.Sprint(f.Status),
			f.ErrorType,
			truncate(f.Reason, 80),
		})
	}
	printTable(out, []string{"ROW", "ID", "STATUS", "ERROR", "REASON"}, rows)
	if n := len(res.FailedDocs) - maxPrintedFailures; n > 0 {
		fmt.Fprintf(out, "... and %d more\n", n)
	}
}
