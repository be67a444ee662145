// Package verifier compares what a load read with what the index holds.
package verifier

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/dbsmedya/esload/internal/index"
	"github.com/dbsmedya/esload/internal/logger"
)

// Result holds the counts of one verification.
type Result struct {
	Index       string
	SourceCount int64
	IndexCount  int64
	Match       bool
}

func (r Result) String() string {
	return fmt.Sprintf("source=%d index=%d match=%v", r.SourceCount, r.IndexCount, r.Match)
}

// Verifier counts rows in the source and documents in the index.
type Verifier struct {
	db     *sql.DB
	client esapi.Transport
	logger *logger.Logger
}

// New creates a Verifier.
func New(db *sql.DB, client esapi.Transport, log *logger.Logger) (*Verifier, error) {
	if db == nil {
		return nil, fmt.Errorf("source database is nil")
	}
	if client == nil {
		return nil, index.ErrNoClient
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Verifier{db: db, client: client, logger: log}, nil
}

// SourceCount returns the number of rows query produces.
func (v *Verifier) SourceCount(ctx context.Context, query string) (int64, error) {
	query = strings.TrimRight(strings.TrimSpace(query), "; \t\n")
	var n int64
	if err := v.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ("+query+") esload_count").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count source rows: %w", err)
	}
	return n, nil
}

// Verify refreshes indexName and compares its document count with the row
// count of query. It is meaningful when the index is loaded only by this job.
func (v *Verifier) Verify(ctx context.Context, query, indexName string) (Result, error) {
	res := Result{Index: indexName}

	n, err := v.SourceCount(ctx, query)
	if err != nil {
		return res, err
	}
	res.SourceCount = n

	if err := index.Refresh(ctx, v.client, indexName); err != nil {
		return res, err
	}
	res.IndexCount, err = index.Count(ctx, v.client, indexName)
	if err != nil {
		return res, err
	}
	res.Match = res.SourceCount == res.IndexCount

	if res.Match {
		v.logger.Infow("Verification passed", "index", indexName, "count", res.IndexCount)
	} else {
		v.logger.Warnw("Verification mismatch",
			"index", indexName,
			"source_count", res.SourceCount,
			"index_count", res.IndexCount,
		)
	}
	return res, nil
}
