// Package loader drives a load: it drains a record source into bounded
// batches and flushes every full batch to the index sink.
package loader

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dbsmedya/esload/internal/config"
	"github.com/dbsmedya/esload/internal/index"
	"github.com/dbsmedya/esload/internal/logger"
	"github.com/dbsmedya/esload/internal/record"
)

// RecordSource yields the records of a query.
type RecordSource interface {
	Records(ctx context.Context, query string, fetchSize int) iter.Seq2[*record.Record, error]
}

// Sink indexes a batch of documents.
type Sink interface {
	Bulk(ctx context.Context, indexName string, op index.OpType, docs []*record.Record, idFn index.IDFunc) (index.BulkResult, error)
}

// Options describes one load.
type Options struct {
	Index     string
	Query     string
	Op        index.OpType
	IDFunc    index.IDFunc
	Transform Transform

	BatchSize int
	FetchSize int

	// FlushPolicy is config.FlushRemainder (default) or config.FlushStrict.
	FlushPolicy string
	// OnTransformError is config.TransformAbort (default) or config.TransformSkip.
	OnTransformError string

	// Pipelined overlaps reading the next batch with flushing the previous one.
	Pipelined bool
	// Sleep pauses after every flush.
	Sleep time.Duration
}

// Result summarizes a load. Counters are valid even when Run returns an error.
type Result struct {
	Read    int64
	Indexed int64
	Retried int64
	Skipped int64
	Dropped int64
	Flushes int

	// FailedDocs holds every action the sink rejected. Positions count
	// records handed to the sink since the start of the run.
	FailedDocs []index.FailedAction

	Duration time.Duration
	Success  bool
}

// Loader runs one load.
type Loader struct {
	source RecordSource
	sink   Sink
	opts   Options
	log    *logger.Logger
}

// New validates opts and returns a Loader.
func New(src RecordSource, sink Sink, opts Options, log *logger.Logger) (*Loader, error) {
	if src == nil || sink == nil {
		return nil, errors.New("source and sink are required")
	}
	if opts.Index == "" {
		return nil, errors.New("index name is required")
	}
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", opts.BatchSize)
	}
	if opts.Op == "" {
		opts.Op = index.OpIndex
	}
	if opts.FlushPolicy == "" {
		opts.FlushPolicy = config.FlushRemainder
	}
	if opts.FlushPolicy != config.FlushRemainder && opts.FlushPolicy != config.FlushStrict {
		return nil, fmt.Errorf("unknown flush policy %q", opts.FlushPolicy)
	}
	if opts.OnTransformError == "" {
		opts.OnTransformError = config.TransformAbort
	}
	if opts.OnTransformError != config.TransformAbort && opts.OnTransformError != config.TransformSkip {
		return nil, fmt.Errorf("unknown transform error policy %q", opts.OnTransformError)
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Loader{
		source: src,
		sink:   sink,
		opts:   opts,
		log:    log.WithIndex(opts.Index),
	}, nil
}

// Run drains the source. It returns an error for source, transform (under
// the abort policy) and whole-request sink failures. Rejected documents do
// not stop the run; they make Result.Success false.
func (l *Loader) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	res := &Result{}

	l.log.Infow("Starting load",
		"batch_size", l.opts.BatchSize,
		"fetch_size", l.opts.FetchSize,
		"op", l.opts.Op,
		"flush_policy", l.opts.FlushPolicy,
		"pipelined", l.opts.Pipelined,
	)

	var err error
	if l.opts.Pipelined {
		err = l.runPipelined(ctx, res)
	} else {
		err = l.runSequential(ctx, res)
	}

	res.Duration = time.Since(start)
	res.Success = err == nil && len(res.FailedDocs) == 0

	if err != nil {
		l.log.Errorw("Load aborted", "error", err, "read", res.Read, "indexed", res.Indexed)
		return res, err
	}
	l.log.Infow("Load finished",
		"read", res.Read,
		"indexed", res.Indexed,
		"failed", len(res.FailedDocs),
		"skipped", res.Skipped,
		"dropped", res.Dropped,
		"flushes", res.Flushes,
		"duration", res.Duration.String(),
	)
	return res, nil
}

func (l *Loader) runSequential(ctx context.Context, res *Result) error {
	batch := NewBatch(l.opts.BatchSize)
	var accepted int64

	for rec, err := range l.source.Records(ctx, l.opts.Query, l.opts.FetchSize) {
		if err != nil {
			return fmt.Errorf("failed to read source: %w", err)
		}
		res.Read++

		doc, err := l.transform(rec, res)
		if err != nil {
			return err
		}
		if doc == nil {
			continue
		}

		accepted++
		if batch.Add(doc) {
			if err := l.flush(ctx, batch, res); err != nil {
				return err
			}
			batch.Reset(accepted)
			if err := l.sleep(ctx); err != nil {
				return err
			}
		}
	}

	if batch.Len() == 0 {
		return nil
	}
	if l.opts.FlushPolicy == config.FlushStrict {
		l.drop(batch, res)
		return nil
	}
	if err := l.flush(ctx, batch, res); err != nil {
		return err
	}
	batch.Reset(accepted)
	return nil
}

// runPipelined reads into one batch while the other is being flushed. A
// batch belongs either to the producer, to the hand-off channel, or to the
// submitter; the free channel returns flushed batches to the producer.
func (l *Loader) runPipelined(ctx context.Context, res *Result) error {
	g, gctx := errgroup.WithContext(ctx)

	full := make(chan *Batch, 1)
	free := make(chan *Batch, 2)
	free <- NewBatch(l.opts.BatchSize)
	free <- NewBatch(l.opts.BatchSize)

	g.Go(func() error {
		for b := range full {
			if err := l.flush(gctx, b, res); err != nil {
				return err
			}
			b.Reset(0)
			free <- b
			if err := l.sleep(gctx); err != nil {
				return err
			}
		}
		return nil
	})

	g.Go(func() error {
		defer close(full)

		cur := <-free
		var accepted int64
		for rec, err := range l.source.Records(gctx, l.opts.Query, l.opts.FetchSize) {
			if err != nil {
				return fmt.Errorf("failed to read source: %w", err)
			}
			res.Read++

			doc, err := l.transform(rec, res)
			if err != nil {
				return err
			}
			if doc == nil {
				continue
			}

			accepted++
			if !cur.Add(doc) {
				continue
			}
			select {
			case full <- cur:
			case <-gctx.Done():
				return gctx.Err()
			}
			select {
			case cur = <-free:
				cur.Reset(accepted)
			case <-gctx.Done():
				return gctx.Err()
			}
		}

		if cur.Len() == 0 {
			return nil
		}
		if l.opts.FlushPolicy == config.FlushStrict {
			l.drop(cur, res)
			return nil
		}
		select {
		case full <- cur:
			return nil
		case <-gctx.Done():
			return gctx.Err()
		}
	})

	return g.Wait()
}

// transform applies the job transform. A nil document with a nil error
// means the record was skipped.
func (l *Loader) transform(rec *record.Record, res *Result) (*record.Record, error) {
	if l.opts.Transform == nil {
		return rec, nil
	}
	doc, err := l.opts.Transform(rec)
	if err == nil {
		return doc, nil
	}
	if l.opts.OnTransformError == config.TransformSkip {
		res.Skipped++
		l.log.Warnw("Skipping record", "row", res.Read, "error", err)
		return nil, nil
	}
	return nil, fmt.Errorf("failed to transform row %d: %w", res.Read, err)
}

func (l *Loader) flush(ctx context.Context, b *Batch, res *Result) error {
	start := time.Now()
	br, err := l.sink.Bulk(ctx, l.opts.Index, l.opts.Op, b.Docs(), l.opts.IDFunc)

	res.Flushes++
	res.Indexed += br.Indexed
	res.Retried += br.Retried
	for _, f := range br.Failed {
		f.Position += int(b.Offset())
		res.FailedDocs = append(res.FailedDocs, f)
	}

	log := l.log.WithBatch(res.Flushes)
	if err != nil {
		return fmt.Errorf("failed to flush batch %d: %w", res.Flushes, err)
	}
	log.Infow("Batch flushed",
		"docs", b.Len(),
		"indexed", br.Indexed,
		"failed", len(br.Failed),
		"retried", br.Retried,
		"requests", br.Requests,
		"total_indexed", res.Indexed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	for _, f := range br.Failed {
		log.Warnw("Document rejected",
			"position", f.Position+int(b.Offset()),
			"id", f.DocumentID,
			"status", f.Status,
			"error_type", f.ErrorType,
			"reason", f.Reason,
		)
	}
	return nil
}

func (l *Loader) drop(b *Batch, res *Result) {
	res.Dropped += int64(b.Len())
	l.log.Warnw("Dropping partial final batch", "docs", b.Len(), "flush_policy", config.FlushStrict)
	b.Reset(b.Offset() + int64(b.Len()))
}

func (l *Loader) sleep(ctx context.Context) error {
	if l.opts.Sleep <= 0 {
		return nil
	}
	timer := time.NewTimer(l.opts.Sleep)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
