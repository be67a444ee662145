// Package indextest provides an in-memory Elasticsearch stand-in for tests.
//
// Server implements the handful of endpoints esload uses: the root info
// endpoint, index existence and creation, _bulk, single document indexing
// and a match_all style _search. Failures can be injected per request or per
// bulk item.
package indextest

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
	"go.elastic.co/apm/module/apmelasticsearch/v2"

	"github.com/dbsmedya/esload/internal/record"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// BulkAction is one decoded action of a _bulk request.
type BulkAction struct {
	Op     string
	Index  string
	ID     string
	Source []byte
}

// ItemError is an injected per-item failure.
type ItemError struct {
	Status int
	Type   string
	Reason string
}

// BulkItem is one entry of a _bulk response.
type BulkItem struct {
	Index  string         `json:"_index"`
	ID     string         `json:"_id,omitempty"`
	Status int            `json:"status"`
	Result string         `json:"result,omitempty"`
	Error  *bulkItemError `json:"error,omitempty"`
}

type bulkItemError struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// DecodeBulkRequest decodes a _bulk request body, gunzipping it when the
// Content-Encoding header asks for it.
func DecodeBulkRequest(r *http.Request) ([]BulkAction, error) {
	body := io.Reader(r.Body)
	if r.Header.Get("Content-Encoding") == "gzip" {
		gr, err := gzip.NewReader(body)
		if err != nil {
			return nil, err
		}
		defer gr.Close()
		body = gr
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64<<10), 64<<20)

	var actions []BulkAction
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var meta map[string]struct {
			Index string `json:"_index"`
			ID    string `json:"_id"`
		}
		if err := json.Unmarshal(line, &meta); err != nil {
			return nil, fmt.Errorf("invalid action line %q: %w", line, err)
		}
		if len(meta) != 1 {
			return nil, fmt.Errorf("action line must have one key: %q", line)
		}

		var action BulkAction
		for op, m := range meta {
			action = BulkAction{Op: op, Index: m.Index, ID: m.ID}
		}
		if action.Op != "delete" {
			if !scanner.Scan() {
				return nil, fmt.Errorf("expected source after %q", line)
			}
			action.Source = bytes.Clone(scanner.Bytes())
			if !json.Valid(action.Source) {
				return nil, fmt.Errorf("invalid JSON: %s", action.Source)
			}
		}
		actions = append(actions, action)
	}
	return actions, scanner.Err()
}

type indexState struct {
	mapping []byte
	ids     []string
	docs    map[string]*record.Record
}

// Server is a fake Elasticsearch node.
type Server struct {
	URL string

	mu      sync.Mutex
	indices map[string]*indexState

	bulkRequests  int
	bulkActions   [][]BulkAction
	bulkRefresh   []string
	failRequests  []int
	failItem      func(BulkAction) *ItemError
	createdCounts map[string]int
}

// NewServer starts a Server closed via t.Cleanup.
func NewServer(t testing.TB) *Server {
	s := &Server{
		indices:       make(map[string]*indexState),
		createdCounts: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleInfo)
	mux.HandleFunc("HEAD /{index}", s.handleExists)
	mux.HandleFunc("PUT /{index}", s.handleCreate)
	mux.HandleFunc("POST /_bulk", s.handleBulk)
	mux.HandleFunc("POST /{index}/_doc", s.handleIndexDoc)
	mux.HandleFunc("PUT /{index}/_doc/{id}", s.handleIndexDoc)
	mux.HandleFunc("POST /{index}/_doc/{id}", s.handleIndexDoc)
	mux.HandleFunc("/{index}/_search", s.handleSearch)
	mux.HandleFunc("POST /{index}/_refresh", s.handleRefresh)
	mux.HandleFunc("/{index}/_count", s.handleCount)

	srv := httptest.NewServer(productHeader(mux))
	t.Cleanup(srv.Close)
	s.URL = srv.URL
	return s
}

// Client returns a client for s. Retries are disabled so tests observe
// every request the code under test makes.
func (s *Server) Client(t testing.TB) *elasticsearch.Client {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    []string{s.URL},
		DisableRetry: true,
		Transport:    apmelasticsearch.WrapRoundTripper(http.DefaultTransport),
	})
	require.NoError(t, err)
	return client
}

// FailNextBulkRequests makes the next bulk requests fail with the given
// HTTP statuses, one status per request.
func (s *Server) FailNextBulkRequests(statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRequests = append(s.failRequests, statuses...)
}

// FailItems installs fn to decide per-item failures. A nil return applies
// the action normally.
func (s *Server) FailItems(fn func(BulkAction) *ItemError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failItem = fn
}

// CreateIndex creates an index directly, bypassing HTTP.
func (s *Server) CreateIndex(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index(name)
}

// BulkRequests returns the number of _bulk requests received.
func (s *Server) BulkRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bulkRequests
}

// BulkActions returns the actions of every successfully decoded _bulk request.
func (s *Server) BulkActions() [][]BulkAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]BulkAction(nil), s.bulkActions...)
}

// BulkRefresh returns the refresh parameter of every decoded bulk request.
func (s *Server) BulkRefresh() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.bulkRefresh...)
}

// CreateCount returns how many times index creation succeeded for name.
func (s *Server) CreateCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdCounts[name]
}

// Mapping returns the body the index was created with.
func (s *Server) Mapping(name string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.indices[name]; ok {
		return idx.mapping
	}
	return nil
}

// Docs returns the stored documents of index in insertion order.
func (s *Server) Docs(index string) []*record.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indices[index]
	if !ok {
		return nil
	}
	out := make([]*record.Record, 0, len(idx.ids))
	for _, id := range idx.ids {
		out = append(out, idx.docs[id])
	}
	return out
}

// Doc returns a stored document by id.
func (s *Server) Doc(index, id string) (*record.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indices[index]
	if !ok {
		return nil, false
	}
	doc, ok := idx.docs[id]
	return doc, ok
}

func (s *Server) index(name string) *indexState {
	idx, ok := s.indices[name]
	if !ok {
		idx = &indexState{docs: make(map[string]*record.Record)}
		s.indices[name] = idx
	}
	return idx
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":         "indextest",
		"cluster_name": "indextest-cluster",
		"version":      map[string]any{"number": "8.15.0"},
		"tagline":      "You Know, for Search",
	})
}

func (s *Server) handleExists(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	_, ok := s.indices[r.PathValue("index")]
	s.mu.Unlock()
	if ok {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("index")
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indices[name]; ok {
		writeError(w, http.StatusBadRequest, "resource_already_exists_exception",
			fmt.Sprintf("index [%s] already exists", name))
		return
	}
	s.index(name).mapping = body
	s.createdCounts[name]++
	writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true, "index": name})
}

func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.bulkRequests++
	if len(s.failRequests) > 0 {
		status := s.failRequests[0]
		s.failRequests = s.failRequests[1:]
		s.mu.Unlock()
		writeError(w, status, "injected_failure", "injected bulk request failure")
		return
	}
	s.mu.Unlock()

	actions, err := DecodeBulkRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "parse_exception", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.bulkActions = append(s.bulkActions, actions)
	s.bulkRefresh = append(s.bulkRefresh, r.URL.Query().Get("refresh"))

	items := make([]map[string]BulkItem, 0, len(actions))
	hasErrors := false
	for _, action := range actions {
		item := s.apply(action)
		if item.Error != nil {
			hasErrors = true
		}
		items = append(items, map[string]BulkItem{action.Op: item})
	}
	writeJSON(w, http.StatusOK, map[string]any{"took": 1, "errors": hasErrors, "items": items})
}

func (s *Server) apply(action BulkAction) BulkItem {
	item := BulkItem{Index: action.Index, ID: action.ID}
	if s.failItem != nil {
		if ierr := s.failItem(action); ierr != nil {
			item.Status = ierr.Status
			item.Error = &bulkItemError{Type: ierr.Type, Reason: ierr.Reason}
			return item
		}
	}

	idx := s.index(action.Index)
	existing, exists := idx.docs[action.ID]
	if action.ID == "" {
		item.ID = uuid.NewString()
		exists = false
	}

	switch action.Op {
	case "index", "create":
		if action.Op == "create" && exists {
			item.Status = http.StatusConflict
			item.Error = &bulkItemError{
				Type:   "version_conflict_engine_exception",
				Reason: fmt.Sprintf("[%s]: version conflict, document already exists", item.ID),
			}
			return item
		}
		doc := record.New()
		if err := doc.UnmarshalJSON(action.Source); err != nil {
			item.Status = http.StatusBadRequest
			item.Error = &bulkItemError{Type: "mapper_parsing_exception", Reason: err.Error()}
			return item
		}
		s.put(idx, item.ID, doc)
		item.Status = http.StatusCreated
		item.Result = "created"
		if exists {
			item.Status = http.StatusOK
			item.Result = "updated"
		}
	case "update":
		if !exists {
			item.Status = http.StatusNotFound
			item.Error = &bulkItemError{
				Type:   "document_missing_exception",
				Reason: fmt.Sprintf("[%s]: document missing", item.ID),
			}
			return item
		}
		var partial struct {
			Doc *record.Record `json:"doc"`
		}
		if err := json.Unmarshal(action.Source, &partial); err != nil || partial.Doc == nil {
			item.Status = http.StatusBadRequest
			item.Error = &bulkItemError{Type: "action_request_validation_exception", Reason: "script or doc is missing"}
			return item
		}
		partial.Doc.Range(func(k string, v any) bool {
			existing.Set(k, v)
			return true
		})
		item.Status = http.StatusOK
		item.Result = "updated"
	case "delete":
		if !exists {
			item.Status = http.StatusNotFound
			item.Result = "not_found"
			return item
		}
		delete(idx.docs, action.ID)
		for i, id := range idx.ids {
			if id == action.ID {
				idx.ids = append(idx.ids[:i], idx.ids[i+1:]...)
				break
			}
		}
		item.Status = http.StatusOK
		item.Result = "deleted"
	default:
		item.Status = http.StatusBadRequest
		item.Error = &bulkItemError{Type: "illegal_argument_exception", Reason: "unknown action " + action.Op}
	}
	return item
}

func (s *Server) put(idx *indexState, id string, doc *record.Record) {
	if _, ok := idx.docs[id]; !ok {
		idx.ids = append(idx.ids, id)
	}
	idx.docs[id] = doc
}

func (s *Server) handleIndexDoc(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("index")
	id := r.PathValue("id")
	body, _ := io.ReadAll(r.Body)

	doc := record.New()
	if err := doc.UnmarshalJSON(body); err != nil {
		writeError(w, http.StatusBadRequest, "mapper_parsing_exception", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" {
		id = uuid.NewString()
	}
	idx := s.index(name)
	_, exists := idx.docs[id]
	s.put(idx, id, doc)

	status, result := http.StatusCreated, "created"
	if exists {
		status, result = http.StatusOK, "updated"
	}
	writeJSON(w, status, map[string]any{"_index": name, "_id": id, "_version": 1, "result": result})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("index")
	body, _ := io.ReadAll(r.Body)
	if len(body) > 0 && !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "parsing_exception", "request body is not valid JSON")
		return
	}

	size := 10
	if len(body) > 0 {
		var req struct {
			Size *int `json:"size"`
		}
		if err := json.Unmarshal(body, &req); err == nil && req.Size != nil {
			size = *req.Size
		}
	}
	if v := r.URL.Query().Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "illegal_argument_exception", "invalid size")
			return
		}
		size = n
	}
	var includes []string
	if v := r.URL.Query().Get("_source_includes"); v != "" {
		includes = strings.Split(v, ",")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indices[name]
	if !ok {
		writeError(w, http.StatusNotFound, "index_not_found_exception", "no such index ["+name+"]")
		return
	}

	hits := make([]map[string]any, 0, min(size, len(idx.ids)))
	for _, id := range idx.ids {
		if len(hits) >= size {
			break
		}
		hits = append(hits, map[string]any{
			"_index":  name,
			"_id":     id,
			"_score":  1.0,
			"_source": project(idx.docs[id], includes),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"took": 1,
		"hits": map[string]any{
			"total": map[string]any{"value": len(idx.ids), "relation": "eq"},
			"hits":  hits,
		},
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("index")
	s.mu.Lock()
	_, ok := s.indices[name]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "index_not_found_exception", "no such index ["+name+"]")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"_shards": map[string]any{"total": 1, "successful": 1, "failed": 0}})
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("index")
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indices[name]
	if !ok {
		writeError(w, http.StatusNotFound, "index_not_found_exception", "no such index ["+name+"]")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(idx.ids)})
}

func project(doc *record.Record, includes []string) *record.Record {
	if len(includes) == 0 {
		return doc
	}
	out := record.New()
	for _, field := range includes {
		if v, ok := doc.Get(field); ok {
			out.Set(field, v)
		}
	}
	return out
}

func productHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, typ, reason string) {
	writeJSON(w, status, map[string]any{
		"error":  map[string]any{"type": typ, "reason": reason},
		"status": status,
	})
}
