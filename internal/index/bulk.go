package index

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/klauspost/compress/gzip"
	"go.elastic.co/fastjson"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/dbsmedya/esload/internal/record"
)

// Error types reported for actions that never reached Elasticsearch.
const (
	ErrorTypeIDExtraction = "id_extraction_exception"
	ErrorTypeEncoding     = "document_encoding_exception"
)

// BulkIndexerConfig holds configuration for BulkIndexer.
type BulkIndexerConfig struct {
	// Client holds the Elasticsearch transport.
	Client esapi.Transport

	// Logger is used for retry and failure logging. Defaults to a no-op logger.
	Logger *zap.Logger

	// MeterProvider receives bulk metrics. Defaults to the global provider.
	MeterProvider metric.MeterProvider

	// CompressionLevel holds the gzip compression level, from 0 (no
	// compression) to 9. The special value -1 selects the default level.
	CompressionLevel int

	// MaxRetries bounds the number of additional attempts made for a
	// request, counting both whole-request and document level retries.
	MaxRetries int

	// RetryOnDocumentStatus holds the item statuses that trigger a
	// document level retry. Defaults to 429.
	RetryOnDocumentStatus []int

	// RetryBackoff is the wait before the first retry. It doubles on each
	// further attempt up to MaxBackoff.
	RetryBackoff time.Duration
	MaxBackoff   time.Duration

	// Refresh is passed as the bulk refresh parameter when non-empty.
	Refresh string
}

// Action is one bulk operation.
type Action struct {
	Op         OpType
	Index      string
	DocumentID string
	Doc        *record.Record
}

// FailedAction describes an action that did not succeed. Position is the
// action's index in the submitted sequence.
type FailedAction struct {
	Position   int
	Index      string
	DocumentID string
	Status     int
	ErrorType  string
	Reason     string
}

func (f FailedAction) String() string {
	return fmt.Sprintf("position %d id %q: status %d %s: %s", f.Position, f.DocumentID, f.Status, f.ErrorType, f.Reason)
}

// BulkResult summarizes one Bulk or Submit call.
type BulkResult struct {
	Indexed  int64
	Retried  int64
	Requests int
	Failed   []FailedAction
}

// BulkIndexer sends actions through the _bulk API and reports the outcome
// of every action. It is not safe for concurrent use.
type BulkIndexer struct {
	config  BulkIndexerConfig
	logger  *zap.Logger
	metrics *metrics
	jsonw   fastjson.Writer
	buf     bytes.Buffer
	gzipw   *gzip.Writer
}

// NewBulkIndexer returns a bulk indexer that issues requests through cfg.Client.
func NewBulkIndexer(cfg BulkIndexerConfig) (*BulkIndexer, error) {
	if cfg.Client == nil {
		return nil, ErrNoClient
	}
	if cfg.CompressionLevel < -1 || cfg.CompressionLevel > 9 {
		return nil, fmt.Errorf("expected CompressionLevel in range [-1,9], got %d", cfg.CompressionLevel)
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("MaxRetries cannot be negative, got %d", cfg.MaxRetries)
	}
	if len(cfg.RetryOnDocumentStatus) == 0 {
		cfg.RetryOnDocumentStatus = []int{http.StatusTooManyRequests}
	}

	ms, err := newMetrics(cfg.MeterProvider)
	if err != nil {
		return nil, err
	}

	b := &BulkIndexer{
		config:  cfg,
		logger:  cfg.Logger,
		metrics: ms,
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	if cfg.CompressionLevel != gzip.NoCompression {
		b.gzipw, err = gzip.NewWriterLevel(&b.buf, cfg.CompressionLevel)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip writer: %w", err)
		}
	}
	return b, nil
}

// Bulk builds one action of kind op per document and submits them to index.
// idFn derives document ids; nil lets Elasticsearch assign them. Documents
// whose id cannot be derived are reported in BulkResult.Failed and not sent.
func (b *BulkIndexer) Bulk(ctx context.Context, index string, op OpType, docs []*record.Record, idFn IDFunc) (BulkResult, error) {
	if idFn == nil && op.needsID() {
		return BulkResult{}, fmt.Errorf("op %s requires document ids", op)
	}

	var result BulkResult
	actions := make([]Action, 0, len(docs))
	positions := make([]int, 0, len(docs))
	for i, doc := range docs {
		action := Action{Op: op, Index: index, Doc: doc}
		if idFn != nil {
			id, err := idFn(doc)
			if err != nil {
				result.Failed = append(result.Failed, FailedAction{
					Position:  i,
					Index:     index,
					ErrorType: ErrorTypeIDExtraction,
					Reason:    err.Error(),
				})
				continue
			}
			action.DocumentID = id
		}
		actions = append(actions, action)
		positions = append(positions, i)
	}

	err := b.submit(ctx, actions, positions, &result)
	sortFailed(result.Failed)
	return result, err
}

// Submit sends actions and returns per-action results. The returned error is
// non-nil only when a whole request failed after retries; individual action
// failures are reported in BulkResult.Failed.
func (b *BulkIndexer) Submit(ctx context.Context, actions []Action) (BulkResult, error) {
	positions := make([]int, len(actions))
	for i := range positions {
		positions[i] = i
	}

	var result BulkResult
	err := b.submit(ctx, actions, positions, &result)
	sortFailed(result.Failed)
	return result, err
}

// pendingAction is an encoded action waiting to be sent.
type pendingAction struct {
	action   Action
	position int
	line     []byte
}

func (b *BulkIndexer) submit(ctx context.Context, actions []Action, positions []int, result *BulkResult) error {
	pending := make([]pendingAction, 0, len(actions))
	for i, action := range actions {
		line, err := b.encodeAction(action)
		if err != nil {
			result.Failed = append(result.Failed, FailedAction{
				Position:   positions[i],
				Index:      action.Index,
				DocumentID: action.DocumentID,
				ErrorType:  ErrorTypeEncoding,
				Reason:     err.Error(),
			})
			continue
		}
		pending = append(pending, pendingAction{action: action, position: positions[i], line: line})
	}

	attempt := 0
	for len(pending) > 0 {
		items, err := b.send(ctx, pending)
		result.Requests++
		if err != nil {
			if attempt >= b.config.MaxRetries || !isRetryable(ctx, err) {
				return err
			}
			attempt++
			b.logger.Warn("bulk request failed, retrying",
				zap.Error(err),
				zap.Int("attempt", attempt),
				zap.Int("actions", len(pending)),
			)
			if err := b.wait(ctx, attempt); err != nil {
				return err
			}
			continue
		}

		var retry []pendingAction
		var indexed, failed int64
		for i, item := range items {
			p := pending[i]
			switch {
			case item.succeeded(p.action.Op):
				indexed++
			case attempt < b.config.MaxRetries && slices.Contains(b.config.RetryOnDocumentStatus, item.Status):
				retry = append(retry, p)
			default:
				failed++
				result.Failed = append(result.Failed, FailedAction{
					Position:   p.position,
					Index:      p.action.Index,
					DocumentID: p.action.DocumentID,
					Status:     item.Status,
					ErrorType:  item.Error.Type,
					Reason:     item.Error.Reason,
				})
			}
		}
		result.Indexed += indexed
		result.Retried += int64(len(retry))
		b.metrics.recordDocs(ctx, b.metricIndex(pending), indexed, failed, int64(len(retry)))

		pending = retry
		if len(pending) > 0 {
			attempt++
			b.logger.Debug("retrying documents",
				zap.Int("attempt", attempt),
				zap.Int("documents", len(pending)),
			)
			if err := b.wait(ctx, attempt); err != nil {
				return err
			}
		}
	}
	return nil
}

// encodeAction renders the action line and, for kinds that carry one, the
// source line. Both lines end with a newline.
func (b *BulkIndexer) encodeAction(a Action) ([]byte, error) {
	b.jsonw.Reset()
	b.jsonw.RawString(`{"`)
	b.jsonw.RawString(string(a.Op))
	b.jsonw.RawString(`":{`)
	first := true
	if a.Index != "" {
		b.jsonw.RawString(`"_index":`)
		b.jsonw.String(a.Index)
		first = false
	}
	if a.DocumentID != "" {
		if !first {
			b.jsonw.RawByte(',')
		}
		b.jsonw.RawString(`"_id":`)
		b.jsonw.String(a.DocumentID)
	}
	b.jsonw.RawString("}}\n")

	line := bytes.NewBuffer(slices.Clone(b.jsonw.Bytes()))
	if !a.Op.hasBody() {
		return line.Bytes(), nil
	}
	if a.Doc == nil {
		return nil, errors.New("document is nil")
	}
	if a.Op == OpUpdate {
		line.WriteString(`{"doc":`)
	}
	if _, err := a.Doc.WriteTo(line); err != nil {
		return nil, err
	}
	if a.Op == OpUpdate {
		line.WriteByte('}')
	}
	line.WriteByte('\n')
	return line.Bytes(), nil
}

func (b *BulkIndexer) body(pending []pendingAction) (io.Reader, error) {
	b.buf.Reset()
	var w io.Writer = &b.buf
	if b.gzipw != nil {
		b.gzipw.Reset(&b.buf)
		w = b.gzipw
	}
	for _, p := range pending {
		if _, err := w.Write(p.line); err != nil {
			return nil, fmt.Errorf("failed to write bulk body: %w", err)
		}
	}
	if b.gzipw != nil {
		if err := b.gzipw.Close(); err != nil {
			return nil, fmt.Errorf("failed closing the gzip writer: %w", err)
		}
	}
	return bytes.NewReader(b.buf.Bytes()), nil
}

func (b *BulkIndexer) send(ctx context.Context, pending []pendingAction) ([]bulkItem, error) {
	body, err := b.body(pending)
	if err != nil {
		return nil, err
	}

	req := esapi.BulkRequest{
		Body:       body,
		Header:     make(http.Header),
		Refresh:    b.config.Refresh,
		FilterPath: []string{"items.*._index", "items.*._id", "items.*.status", "items.*.error.type", "items.*.error.reason"},
	}
	if b.gzipw != nil {
		req.Header.Set("Content-Encoding", "gzip")
	}

	index := b.metricIndex(pending)
	start := time.Now()
	res, err := req.Do(ctx, b.config.Client)
	if err != nil {
		b.metrics.recordRequest(ctx, index, time.Since(start), "transport_error")
		return nil, &transportError{err: err}
	}
	defer res.Body.Close()

	if res.IsError() {
		b.metrics.recordRequest(ctx, index, time.Since(start), "error")
		return nil, fmt.Errorf("flush failed: %w", newRequestError(res))
	}
	b.metrics.recordRequest(ctx, index, time.Since(start), "success")

	items, err := decodeBulkResponse(res.Body)
	if err != nil {
		return nil, err
	}
	if len(items) != len(pending) {
		return nil, fmt.Errorf("bulk response has %d items, expected %d", len(items), len(pending))
	}
	return items, nil
}

// wait sleeps before retry attempt n, doubling RetryBackoff per attempt.
func (b *BulkIndexer) wait(ctx context.Context, attempt int) error {
	d := b.config.RetryBackoff
	for i := 1; i < attempt && d > 0; i++ {
		d *= 2
		if b.config.MaxBackoff > 0 && d >= b.config.MaxBackoff {
			break
		}
	}
	if b.config.MaxBackoff > 0 && d > b.config.MaxBackoff {
		d = b.config.MaxBackoff
	}
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (b *BulkIndexer) metricIndex(pending []pendingAction) string {
	if len(pending) == 0 {
		return ""
	}
	return pending[0].action.Index
}

func sortFailed(failed []FailedAction) {
	slices.SortFunc(failed, func(a, b FailedAction) int {
		return a.Position - b.Position
	})
}

type bulkItem struct {
	Index  string `json:"_index"`
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

// succeeded treats a missing document on delete as done.
func (i bulkItem) succeeded(op OpType) bool {
	if i.Error.Type != "" && !(op == OpDelete && i.Status == http.StatusNotFound) {
		return false
	}
	return i.Status < 300 || (op == OpDelete && i.Status == http.StatusNotFound)
}

type bulkResponse struct {
	Items []map[string]bulkItem `json:"items"`
}

func decodeBulkResponse(r io.Reader) ([]bulkItem, error) {
	var resp bulkResponse
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return nil, fmt.Errorf("error decoding bulk response: %w", err)
	}
	items := make([]bulkItem, 0, len(resp.Items))
	for _, m := range resp.Items {
		for _, item := range m {
			items = append(items, item)
		}
	}
	return items, nil
}
