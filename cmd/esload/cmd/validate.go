package cmd

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/esload/internal/config"
	"github.com/dbsmedya/esload/internal/database"
	"github.com/dbsmedya/esload/internal/index"
	"github.com/dbsmedya/esload/internal/logger"
	"github.com/dbsmedya/esload/internal/source"
)

var (
	validateJob     string
	validateOffline bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and run preflight checks",
	Long: `Validate checks the configuration file and runs preflight checks
against the source database and the Elasticsearch cluster.

Checks performed:
  - Configuration syntax and required fields
  - Source database connectivity
  - Elasticsearch connectivity and version
  - Mapping files parse
  - Job queries are accepted by the database
  - The id column and renamed columns exist in each query's result

With --offline only the configuration and mapping files are checked.

Example:
  esload validate --config esload.yaml`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVarP(&validateJob, "job", "j", "",
		"Validate only this job")
	validateCmd.Flags().BoolVar(&validateOffline, "offline", false,
		"Skip database and Elasticsearch checks")

	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	configFile := GetConfigFile()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	printHeader(out, "Configuration Validation")
	fmt.Fprintf(out, "Config file: %s\n", configFile)
	fmt.Fprintf(out, "Jobs found: %d\n\n", len(cfg.Jobs))

	if err := cfg.Validate(); err != nil {
		printFail(out, "Configuration invalid")
		return err
	}
	printOK(out, "Configuration valid")

	names := cfg.ListJobs()
	sort.Strings(names)
	if validateJob != "" {
		if _, err := cfg.GetJob(validateJob); err != nil {
			return err
		}
		names = []string{validateJob}
	}

	var src *source.Source
	ctx := context.Background()

	if !validateOffline {
		log, err := logger.New(&cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		defer log.Sync()

		dbManager := database.NewManager(&cfg.Source)
		if err := dbManager.Connect(ctx); err != nil {
			printFail(out, "Source database (%s): %v", cfg.Source.Driver, err)
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer dbManager.Close()
		printOK(out, "Source database reachable (%s)", dbManager.Driver())

		client, err := index.NewClient(&cfg.Elasticsearch)
		if err != nil {
			return err
		}
		info, err := index.Ping(ctx, client)
		if err != nil {
			printFail(out, "Elasticsearch: %v", err)
			return fmt.Errorf("elasticsearch connection failed: %w", err)
		}
		printOK(out, "Elasticsearch reachable (cluster %s, version %s)", info.ClusterName, info.Version.Number)

		src = source.New(dbManager.Source, dbManager.Driver(), source.WithLogger(log))
	}
	fmt.Fprintln(out)

	hasErrors := false
	for _, name := range names {
		job, _ := cfg.GetJob(name)
		fmt.Fprintf(out, "--- Job: %s ---\n", name)
		fmt.Fprintf(out, "Index: %s\n", job.Index)
		fmt.Fprintf(out, "Op type: %s\n", job.EffectiveOpType())

		problems := checkJob(ctx, src, job)
		if len(problems) == 0 {
			printOK(out, "All checks passed\n")
			continue
		}
		hasErrors = true
		for _, p := range problems {
			printFail(out, "%s", p)
		}
		fmt.Fprintln(out)
	}

	if hasErrors {
		return fmt.Errorf("validation failed for one or more jobs")
	}

	printHeader(out, "Validation Complete")
	printOK(out, "All jobs validated successfully")
	return nil
}

// checkJob returns the problems found with one job. src is nil in offline mode.
func checkJob(ctx context.Context, src *source.Source, job *config.JobConfig) []string {
	var problems []string

	if _, err := index.ParseOpType(job.OpType); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := index.LoadMapping(job.MappingFile); err != nil {
		problems = append(problems, err.Error())
	}

	if src == nil {
		return problems
	}

	cols, err := src.Columns(ctx, job.Query)
	if err != nil {
		return append(problems, fmt.Sprintf("query rejected: %v", err))
	}
	if idField := job.EffectiveIDField(); idField != "" && !slices.Contains(cols, idField) {
		problems = append(problems, fmt.Sprintf("id column %q is not in the query result", idField))
	}
	for _, rn := range job.RenameFields {
		if !slices.Contains(cols, rn.From) {
			problems = append(problems, fmt.Sprintf("renamed column %q is not in the query result", rn.From))
		}
	}
	return problems
}
