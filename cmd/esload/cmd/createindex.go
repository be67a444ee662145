package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/esload/internal/index"
)

var (
	createIndexJob     string
	createIndexName    string
	createIndexMapping string
)

var createIndexCmd = &cobra.Command{
	Use:   "create-index",
	Short: "Create an index with its mapping if it does not exist",
	Long: `Create-index creates the target index of a job, or an index named with
--index, using the mapping file when one is configured and the built-in
reference mapping otherwise. An index that already exists is left untouched.

Examples:
  esload create-index --job people
  esload create-index --index people --mapping mappings/people.json`,
	RunE: runCreateIndex,
}

func init() {
	createIndexCmd.Flags().StringVarP(&createIndexJob, "job", "j", "",
		"Job whose index and mapping to use")
	createIndexCmd.Flags().StringVar(&createIndexName, "index", "",
		"Index name (overrides the job's index)")
	createIndexCmd.Flags().StringVar(&createIndexMapping, "mapping", "",
		"Mapping file (overrides the job's mapping file)")

	rootCmd.AddCommand(createIndexCmd)
}

func runCreateIndex(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	name, mappingFile := createIndexName, createIndexMapping
	if createIndexJob != "" {
		job, err := cfg.GetJob(createIndexJob)
		if err != nil {
			return err
		}
		if name == "" {
			name = job.Index
		}
		if mappingFile == "" {
			mappingFile = job.MappingFile
		}
	}
	if name == "" {
		return errors.New("either --job or --index is required")
	}

	mapping, err := index.LoadMapping(mappingFile)
	if err != nil {
		return err
	}

	client, err := index.NewClient(&cfg.Elasticsearch)
	if err != nil {
		return err
	}

	created, err := index.EnsureIndex(context.Background(), client, name, mapping)
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", name, err)
	}
	if created {
		printOK(out, "Index %s created", name)
	} else {
		printWarn(out, "Index %s already exists", name)
	}
	return nil
}
