package cmd

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
)

var listJobsCmd = &cobra.Command{
	Use:   "list-jobs",
	Short: "List all jobs defined in configuration",
	Long: `List-jobs displays all load jobs defined in the configuration file
along with their target index and effective processing settings.

Example:
  esload list-jobs --config esload.yaml`,
	RunE: runListJobs,
}

func init() {
	rootCmd.AddCommand(listJobsCmd)
}

func runListJobs(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()
	out := cmd.OutOrStdout()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	jobNames := cfg.ListJobs()
	if len(jobNames) == 0 {
		fmt.Fprintf(out, "No jobs defined in %s\n", configFile)
		return nil
	}
	sort.Strings(jobNames)

	fmt.Fprintf(out, "Jobs defined in %s:\n\n", configFile)

	rows := make([][]string, 0, len(jobNames))
	for _, name := range jobNames {
		job, err := cfg.GetJob(name)
		if err != nil {
			return fmt.Errorf("failed to get job %q: %w", name, err)
		}
		p := job.GetJobProcessing(cfg.Processing)

		mapping := "reference"
		if job.MappingFile != "" {
			mapping = job.MappingFile
		}
		idField := job.EffectiveIDField()
		if idField == "" {
			idField = "(auto)"
		}
		rows = append(rows, []string{
			name,
			job.Index,
			job.EffectiveOpType(),
			idField,
			strconv.Itoa(p.BatchSize),
			p.FlushPolicy,
			mapping,
			truncate(job.Query, 60),
		})
	}
	printTable(out, []string{"JOB", "INDEX", "OP", "ID FIELD", "BATCH", "FLUSH", "MAPPING", "QUERY"}, rows)

	fmt.Fprintf(out, "\nTotal: %d job(s)\n", len(jobNames))
	return nil
}
