// Package index implements the search index side of a load: client
// construction, idempotent index creation, bulk submission with per-action
// results, single document indexing and search.
package index

import (
	"context"
	"fmt"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	jsoniter "github.com/json-iterator/go"
	"go.elastic.co/apm/module/apmelasticsearch/v2"

	"github.com/dbsmedya/esload/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// NewClient creates an Elasticsearch client from configuration.
//
// Client-level retries are disabled; BulkIndexer retries on its own so that
// partially failed requests only resend the failed documents.
func NewClient(cfg *config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	esCfg := elasticsearch.Config{
		Addresses:    cfg.Addresses,
		Username:     cfg.Username,
		Password:     cfg.Password,
		APIKey:       cfg.APIKey,
		DisableRetry: true,
	}
	if cfg.APM {
		esCfg.Transport = apmelasticsearch.WrapRoundTripper(http.DefaultTransport)
	}

	client, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	return client, nil
}

// ClusterInfo is the subset of the root endpoint response used for
// connectivity checks.
type ClusterInfo struct {
	Name        string `json:"name"`
	ClusterName string `json:"cluster_name"`
	Version     struct {
		Number string `json:"number"`
	} `json:"version"`
}

// Ping calls the root endpoint and returns basic cluster information.
func Ping(ctx context.Context, client esapi.Transport) (ClusterInfo, error) {
	var info ClusterInfo

	res, err := esapi.InfoRequest{}.Do(ctx, client)
	if err != nil {
		return info, fmt.Errorf("failed to reach elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return info, newRequestError(res)
	}
	if err := json.NewDecoder(res.Body).Decode(&info); err != nil {
		return info, fmt.Errorf("error decoding info response: %w", err)
	}
	return info, nil
}
