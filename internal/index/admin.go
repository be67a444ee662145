package index

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/dbsmedya/esload/internal/record"
)

const resourceAlreadyExists = "resource_already_exists_exception"

// EnsureIndex creates the index with mapping unless it already exists.
// It reports whether the index was created by this call. Existing indices
// and their documents are left untouched; the mapping is not compared.
func EnsureIndex(ctx context.Context, client esapi.Transport, name string, mapping Mapping) (bool, error) {
	if client == nil {
		return false, ErrNoClient
	}

	exists, err := IndexExists(ctx, client, name)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	body, err := json.Marshal(mapping)
	if err != nil {
		return false, fmt.Errorf("failed to encode mapping: %w", err)
	}

	res, err := esapi.IndicesCreateRequest{
		Index: name,
		Body:  bytes.NewReader(body),
	}.Do(ctx, client)
	if err != nil {
		return false, fmt.Errorf("failed to create index %s: %w", name, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		rerr := newRequestError(res)
		// Lost a race with another creator.
		if rerr.Type == resourceAlreadyExists {
			return false, nil
		}
		return false, fmt.Errorf("failed to create index %s: %w", name, rerr)
	}
	return true, nil
}

// IndexExists reports whether name is an existing index.
func IndexExists(ctx context.Context, client esapi.Transport, name string) (bool, error) {
	if client == nil {
		return false, ErrNoClient
	}

	res, err := esapi.IndicesExistsRequest{Index: []string{name}}.Do(ctx, client)
	if err != nil {
		return false, fmt.Errorf("failed to check index %s: %w", name, err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("failed to check index %s: %w", name, newRequestError(res))
	}
}

// IndexResponse is the result of indexing a single document.
type IndexResponse struct {
	Index   string `json:"_index"`
	ID      string `json:"_id"`
	Version int64  `json:"_version"`
	Result  string `json:"result"`
}

// IndexDocument indexes one document, creating or replacing it. An empty id
// lets Elasticsearch generate one. refresh is passed through as the refresh
// parameter ("", "true", "false" or "wait_for").
func IndexDocument(ctx context.Context, client esapi.Transport, index, id string, doc *record.Record, refresh string) (IndexResponse, error) {
	var out IndexResponse
	if client == nil {
		return out, ErrNoClient
	}

	var body bytes.Buffer
	if _, err := doc.WriteTo(&body); err != nil {
		return out, fmt.Errorf("failed to encode document: %w", err)
	}

	res, err := esapi.IndexRequest{
		Index:      index,
		DocumentID: id,
		Body:       &body,
		Refresh:    refresh,
	}.Do(ctx, client)
	if err != nil {
		return out, fmt.Errorf("failed to index document: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return out, newRequestError(res)
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("error decoding index response: %w", err)
	}
	return out, nil
}

// SearchRequest is a raw query passthrough. Body is the complete search
// request body as JSON (query, sort, ...); it is not interpreted.
type SearchRequest struct {
	Index  string
	Body   []byte
	Size   *int
	Source []string
}

// Hit is one search result.
type Hit struct {
	ID     string         `json:"_id"`
	Score  *float64       `json:"_score"`
	Source *record.Record `json:"_source"`
}

// SearchResult holds the hits of a search.
type SearchResult struct {
	Total    int64
	Relation string
	TookMs   int64
	Hits     []Hit
}

type searchResponse struct {
	Took int64 `json:"took"`
	Hits struct {
		Total struct {
			Value    int64  `json:"value"`
			Relation string `json:"relation"`
		} `json:"total"`
		Hits []Hit `json:"hits"`
	} `json:"hits"`
}

// Search runs req and returns its hits with sources in their stored field order.
func Search(ctx context.Context, client esapi.Transport, req SearchRequest) (SearchResult, error) {
	var out SearchResult
	if client == nil {
		return out, ErrNoClient
	}
	if len(req.Body) > 0 && !json.Valid(req.Body) {
		return out, ErrInvalidQuery
	}

	esReq := esapi.SearchRequest{
		Index:          []string{req.Index},
		Size:           req.Size,
		SourceIncludes: req.Source,
	}
	if len(req.Body) > 0 {
		esReq.Body = bytes.NewReader(req.Body)
	}

	res, err := esReq.Do(ctx, client)
	if err != nil {
		return out, fmt.Errorf("failed to search %s: %w", req.Index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return out, newRequestError(res)
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return out, fmt.Errorf("error decoding search response: %w", err)
	}

	out.Total = parsed.Hits.Total.Value
	out.Relation = parsed.Hits.Total.Relation
	out.TookMs = parsed.Took
	out.Hits = parsed.Hits.Hits
	return out, nil
}

// Refresh makes recent writes to index visible to search and count.
func Refresh(ctx context.Context, client esapi.Transport, index string) error {
	if client == nil {
		return ErrNoClient
	}
	res, err := esapi.IndicesRefreshRequest{Index: []string{index}}.Do(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to refresh %s: %w", index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return newRequestError(res)
	}
	return nil
}

// Count returns the number of documents in index.
func Count(ctx context.Context, client esapi.Transport, index string) (int64, error) {
	if client == nil {
		return 0, ErrNoClient
	}
	res, err := esapi.CountRequest{Index: []string{index}}.Do(ctx, client)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, newRequestError(res)
	}

	var out struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("error decoding count response: %w", err)
	}
	return out.Count, nil
}
