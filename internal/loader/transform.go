package loader

import (
	"errors"
	"fmt"

	"github.com/dbsmedya/esload/internal/config"
	"github.com/dbsmedya/esload/internal/record"
)

// ErrEmptyDocument is returned when a transform leaves no fields to index.
var ErrEmptyDocument = errors.New("document has no fields")

// Transform turns a source record into the document to index. It may modify
// and return its argument.
type Transform func(*record.Record) (*record.Record, error)

// FieldTransform builds the transform described by a job: fields in exclude
// are removed, then every rename is applied in order. A rename whose source
// field is absent is an error. The result is nil when there is nothing to do.
func FieldTransform(exclude []string, renames []config.FieldRename) Transform {
	if len(exclude) == 0 && len(renames) == 0 {
		return nil
	}
	exclude = append([]string(nil), exclude...)
	renames = append([]config.FieldRename(nil), renames...)

	return func(doc *record.Record) (*record.Record, error) {
		for _, field := range exclude {
			doc.Delete(field)
		}
		for _, rn := range renames {
			if !doc.Rename(rn.From, rn.To) {
				return nil, fmt.Errorf("cannot rename %q to %q: field not present", rn.From, rn.To)
			}
		}
		if doc.Len() == 0 {
			return nil, ErrEmptyDocument
		}
		return doc, nil
	}
}
