package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/esload/internal/index"
	"github.com/dbsmedya/esload/internal/record"
)

var (
	indexDocIndex   string
	indexDocID      string
	indexDocBody    string
	indexDocFile    string
	indexDocRefresh string
)

var indexDocCmd = &cobra.Command{
	Use:   "index-doc",
	Short: "Index a single JSON document",
	Long: `Index-doc stores one JSON object in an index. Without --id the
document id is generated by Elasticsearch.

The document is read from --doc, from --doc-file, or from standard input
when --doc-file is "-".

Examples:
  esload index-doc --index people --id 42 --doc '{"name":"Ada","age":36}'
  esload index-doc --index people --doc-file person.json --refresh wait_for`,
	RunE: runIndexDoc,
}

func init() {
	indexDocCmd.Flags().StringVar(&indexDocIndex, "index", "",
		"Target index (required)")
	indexDocCmd.MarkFlagRequired("index")
	indexDocCmd.Flags().StringVar(&indexDocID, "id", "",
		"Document id (generated when empty)")
	indexDocCmd.Flags().StringVar(&indexDocBody, "doc", "",
		"Document as a JSON object")
	indexDocCmd.Flags().StringVar(&indexDocFile, "doc-file", "",
		"File holding the JSON document, or - for stdin")
	indexDocCmd.Flags().StringVar(&indexDocRefresh, "refresh", "",
		"Refresh policy: true, false or wait_for")

	rootCmd.AddCommand(indexDocCmd)
}

func runIndexDoc(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	data, err := readDocument(cmd)
	if err != nil {
		return err
	}
	doc := record.New()
	if err := doc.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("document must be a JSON object: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	client, err := index.NewClient(&cfg.Elasticsearch)
	if err != nil {
		return err
	}

	resp, err := index.IndexDocument(context.Background(), client, indexDocIndex, indexDocID, doc, indexDocRefresh)
	if err != nil {
		return fmt.Errorf("failed to index document: %w", err)
	}
	printOK(out, "Document %s %s in %s (version %d)", resp.ID, resp.Result, resp.Index, resp.Version)
	return nil
}

func readDocument(cmd *cobra.Command) ([]byte, error) {
	switch {
	case indexDocBody != "" && indexDocFile != "":
		return nil, errors.New("--doc and --doc-file are mutually exclusive")
	case indexDocBody != "":
		return []byte(indexDocBody), nil
	case indexDocFile == "-":
		return io.ReadAll(cmd.InOrStdin())
	case indexDocFile != "":
		data, err := os.ReadFile(indexDocFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read document file: %w", err)
		}
		return data, nil
	}
	return nil, errors.New("one of --doc or --doc-file is required")
}
