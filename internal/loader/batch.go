package loader

import "github.com/dbsmedya/esload/internal/record"

// Batch is a bounded buffer of records awaiting a flush. Its backing array
// is allocated once and reused after every Reset.
type Batch struct {
	docs   []*record.Record
	size   int
	offset int64
}

// NewBatch creates an empty batch holding at most size records.
func NewBatch(size int) *Batch {
	return &Batch{docs: make([]*record.Record, 0, size), size: size}
}

// Add appends a record and reports whether the batch is now full.
// Adding to a full batch panics; callers flush first.
func (b *Batch) Add(doc *record.Record) bool {
	if len(b.docs) >= b.size {
		panic("loader: add to full batch")
	}
	b.docs = append(b.docs, doc)
	return len(b.docs) == b.size
}

// Len returns the number of buffered records.
func (b *Batch) Len() int { return len(b.docs) }

// Docs returns the buffered records. The slice is only valid until Reset.
func (b *Batch) Docs() []*record.Record { return b.docs }

// Offset is the position, within the run, of the first record in the batch.
func (b *Batch) Offset() int64 { return b.offset }

// Reset empties the batch, keeping its capacity. The next record added is
// at position offset within the run.
func (b *Batch) Reset(offset int64) {
	clear(b.docs)
	b.docs = b.docs[:0]
	b.offset = offset
}
