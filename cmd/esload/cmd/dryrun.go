package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/esload/internal/database"
	"github.com/dbsmedya/esload/internal/index"
	"github.com/dbsmedya/esload/internal/loader"
	"github.com/dbsmedya/esload/internal/logger"
	"github.com/dbsmedya/esload/internal/verifier"
)

var dryrunJob string

var dryrunCmd = &cobra.Command{
	Use:   "dry-run",
	Short: "Simulate a load without indexing anything",
	Long: `Dry-run reports what a load would do without writing to the index.

The dry-run shows:
  - Number of rows the job query returns
  - Number of bulk requests that would be sent
  - Rows the strict flush policy would drop
  - Whether the target index already exists

Example:
  esload dry-run --config esload.yaml --job people`,
	RunE: runDryrun,
}

func init() {
	dryrunCmd.Flags().StringVarP(&dryrunJob, "job", "j", "",
		"Job name from configuration file (required)")
	dryrunCmd.MarkFlagRequired("job")

	rootCmd.AddCommand(dryrunCmd)
}

func runDryrun(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	job, err := cfg.GetJob(dryrunJob)
	if err != nil {
		return err
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	ctx := context.Background()

	dbManager := database.NewManager(&cfg.Source)
	if err := dbManager.Connect(ctx); err != nil {
		return err
	}
	defer dbManager.Close()

	client, err := index.NewClient(&cfg.Elasticsearch)
	if err != nil {
		return err
	}
	exists, err := index.IndexExists(ctx, client, job.Index)
	if err != nil {
		return err
	}

	v, err := verifier.New(dbManager.Source, client, log.WithJob(dryrunJob))
	if err != nil {
		return err
	}
	rows, err := v.SourceCount(ctx, job.Query)
	if err != nil {
		return fmt.Errorf("estimation failed: %w", err)
	}

	o := GetCLIOverrides()
	p := cfg.ApplyJobOverrides(dryrunJob, o.BatchSize, o.FetchSize, o.SleepSeconds)
	est := loader.EstimateRun(rows, p.BatchSize, p.FlushPolicy)

	printHeader(out, "Execution Plan")
	fmt.Fprintf(out, "Job: %s\n", dryrunJob)
	fmt.Fprintf(out, "Index: %s (exists: %v)\n", job.Index, exists)
	fmt.Fprintf(out, "Op type: %s\n", job.EffectiveOpType())
	fmt.Fprintf(out, "Rows: %d\n", est.Rows)
	fmt.Fprintf(out, "Batch size: %d\n", p.BatchSize)
	fmt.Fprintf(out, "Fetch size: %d\n", p.EffectiveFetchSize())
	fmt.Fprintf(out, "Flush policy: %s\n", p.FlushPolicy)
	fmt.Fprintf(out, "Bulk requests: %d\n", est.Flushes)
	if est.Dropped > 0 {
		printWarn(out, "Rows dropped by strict flush policy: %d", est.Dropped)
	}
	if p.SleepSeconds > 0 {
		fmt.Fprintf(out, "Sleep between batches: %.2fs\n", p.SleepSeconds)
	}
	return nil
}
