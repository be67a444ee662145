package index

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/dbsmedya/esload/internal/record"
)

// OpType is a bulk action kind.
type OpType string

const (
	// OpIndex creates or replaces a document.
	OpIndex OpType = "index"
	// OpCreate creates a document and fails if the id exists.
	OpCreate OpType = "create"
	// OpUpdate merges the record into an existing document.
	OpUpdate OpType = "update"
	// OpDelete removes a document; the record only supplies the id.
	OpDelete OpType = "delete"
)

// ParseOpType converts a configured op_type. Empty means OpIndex.
func ParseOpType(s string) (OpType, error) {
	switch OpType(s) {
	case "", OpIndex:
		return OpIndex, nil
	case OpCreate, OpUpdate, OpDelete:
		return OpType(s), nil
	}
	return "", fmt.Errorf("unknown op_type %q", s)
}

// hasBody reports whether the action line is followed by a source line.
func (op OpType) hasBody() bool {
	return op != OpDelete
}

// needsID reports whether the action is meaningless without a document id.
func (op OpType) needsID() bool {
	return op == OpUpdate || op == OpDelete
}

// IDFunc derives the document id for a record.
type IDFunc func(doc *record.Record) (string, error)

// FieldID returns an IDFunc that uses the value of field as the document id.
func FieldID(field string) IDFunc {
	return func(doc *record.Record) (string, error) {
		v, ok := doc.Get(field)
		if !ok {
			return "", fmt.Errorf("id field %q not present", field)
		}
		id, err := record.IDString(v)
		if err != nil {
			return "", fmt.Errorf("id field %q: %w", field, err)
		}
		return id, nil
	}
}

// UUIDFieldID is like FieldID but requires the value to be a UUID and
// returns it in canonical lowercase hyphenated form. A 16 byte binary
// value, as stored in BINARY(16) columns, is read as the raw UUID.
func UUIDFieldID(field string) IDFunc {
	raw := FieldID(field)
	return func(doc *record.Record) (string, error) {
		if v, ok := doc.Get(field); ok {
			if b, isBinary := v.(record.Binary); isBinary && len(b) == 16 {
				u, err := uuid.FromBytes(b)
				if err != nil {
					return "", fmt.Errorf("id field %q: %w", field, err)
				}
				return u.String(), nil
			}
		}
		s, err := raw(doc)
		if err != nil {
			return "", err
		}
		u, err := uuid.Parse(s)
		if err != nil {
			return "", fmt.Errorf("id field %q: %w", field, err)
		}
		return u.String(), nil
	}
}

// IDFuncFor builds the IDFunc for a job's id settings. An empty field
// disables explicit ids and lets Elasticsearch assign them.
func IDFuncFor(field, idType string) IDFunc {
	switch {
	case field == "":
		return nil
	case idType == "uuid":
		return UUIDFieldID(field)
	default:
		return FieldID(field)
	}
}
