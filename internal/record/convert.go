package record

import (
	"encoding/hex"
	stdjson "encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// ErrNilID is returned when an id value is NULL.
var ErrNilID = errors.New("id value is null")

// Binary is column data that is not text. It encodes as a base64 string,
// the form Elasticsearch expects for binary fields.
type Binary []byte

// MarshalJSON encodes b as a base64 JSON string.
func (b Binary) MarshalJSON() ([]byte, error) {
	return json.Marshal([]byte(b))
}

// NormalizeValue converts driver values into JSON-friendly values.
// Drivers return text and numeric columns as []byte in several cases
// (MySQL without column type info, DECIMAL, JSON); those become strings.
// Bytes that are not valid UTF-8 are kept as Binary.
func NormalizeValue(v any) any {
	switch val := v.(type) {
	case []byte:
		if utf8.Valid(val) {
			return string(val)
		}
		return Binary(val)
	case time.Time:
		return val.UTC()
	default:
		return v
	}
}

// IDString converts a column value to a document id.
// Supports strings, byte slices, all integer kinds, integral floats and
// fmt.Stringer implementations. Binary values are hex encoded.
func IDString(v any) (string, error) {
	switch i := v.(type) {
	case nil:
		return "", ErrNilID
	case string:
		return i, nil
	case Binary:
		return hex.EncodeToString(i), nil
	case []byte:
		if !utf8.Valid(i) {
			return hex.EncodeToString(i), nil
		}
		return string(i), nil
	case stdjson.Number:
		return numberID(i)
	case int64:
		return strconv.FormatInt(i, 10), nil
	case int:
		return strconv.FormatInt(int64(i), 10), nil
	case int32:
		return strconv.FormatInt(int64(i), 10), nil
	case int16:
		return strconv.FormatInt(int64(i), 10), nil
	case int8:
		return strconv.FormatInt(int64(i), 10), nil
	case uint:
		return strconv.FormatUint(uint64(i), 10), nil
	case uint64:
		return strconv.FormatUint(i, 10), nil
	case uint32:
		return strconv.FormatUint(uint64(i), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(i), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(i), 10), nil
	case float64:
		return floatID(i)
	case float32:
		return floatID(float64(i))
	case fmt.Stringer:
		return i.String(), nil
	default:
		return "", fmt.Errorf("unsupported id type %T", v)
	}
}

// numberID keeps integer literals verbatim so ids above 2^53 are exact.
func numberID(n stdjson.Number) (string, error) {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		return s, nil
	}
	f, err := n.Float64()
	if err != nil {
		return "", fmt.Errorf("invalid number id %q: %w", s, err)
	}
	return floatID(f)
}

func floatID(f float64) (string, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return "", fmt.Errorf("non-integral float id %v", f)
	}
	return strconv.FormatFloat(f, 'f', 0, 64), nil
}
