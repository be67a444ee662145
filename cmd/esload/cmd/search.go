package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/esload/internal/index"
)

const matchAllQuery = `{"query":{"match_all":{}}}`

var (
	searchIndex  string
	searchQuery  string
	searchSize   int
	searchSource []string
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Run a raw search request against an index",
	Long: `Search sends the JSON request body given with --query to the index
unchanged and prints the hits. Sources are shown with their fields in the
order they were stored.

Examples:
  esload search --index people
  esload search --index people --query '{"query":{"match":{"name":"ada"}}}' --size 5
  esload search --index people --source name,age`,
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVar(&searchIndex, "index", "",
		"Index to search (required)")
	searchCmd.MarkFlagRequired("index")
	searchCmd.Flags().StringVarP(&searchQuery, "query", "q", matchAllQuery,
		"Search request body as JSON")
	searchCmd.Flags().IntVar(&searchSize, "size", 10,
		"Maximum number of hits to return, overriding any size in --query")
	searchCmd.Flags().StringSliceVar(&searchSource, "source", nil,
		"Only return these source fields")

	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if searchSize < 0 {
		return fmt.Errorf("--size cannot be negative, got %d", searchSize)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	client, err := index.NewClient(&cfg.Elasticsearch)
	if err != nil {
		return err
	}

	req := index.SearchRequest{
		Index:  searchIndex,
		Body:   []byte(searchQuery),
		Source: searchSource,
	}
	// An explicit --size wins; otherwise a size in the body applies.
	if cmd.Flags().Changed("size") {
		size := searchSize
		req.Size = &size
	}
	res, err := index.Search(context.Background(), client, req)
	if errors.Is(err, index.ErrInvalidQuery) {
		return fmt.Errorf("--query is not valid JSON: %w", err)
	}
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	total := strconv.FormatInt(res.Total, 10)
	if res.Relation == "gte" {
		total = "≥" + total
	}
	fmt.Fprintf(out, "Hits: %s (showing %d, took %dms)\n\n", total, len(res.Hits), res.TookMs)
	if len(res.Hits) == 0 {
		return nil
	}

	rows := make([][]string, 0, len(res.Hits))
	for _, h := range res.Hits {
		score := "-"
		if h.Score != nil {
			score = strconv.FormatFloat(*h.Score, 'f', 3, 64)
		}
		source := "{}"
		if h.Source != nil {
			source = h.Source.String()
		}
		rows = append(rows, []string{h.ID, score, truncate(source, 100)})
	}
	printTable(out, []string{"ID", "SCORE", "SOURCE"}, rows)
	return nil
}
