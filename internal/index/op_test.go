package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/esload/internal/record"
)

func TestParseOpType(t *testing.T) {
	for in, want := range map[string]OpType{"": OpIndex, "index": OpIndex, "create": OpCreate, "update": OpUpdate, "delete": OpDelete} {
		got, err := ParseOpType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseOpType("upsert")
	assert.Error(t, err)
}

func TestFieldID(t *testing.T) {
	doc := record.New()
	doc.Set("id", int64(42))
	doc.Set("empty", nil)

	id, err := FieldID("id")(doc)
	require.NoError(t, err)
	assert.Equal(t, "42", id)

	_, err = FieldID("missing")(doc)
	assert.ErrorContains(t, err, "not present")

	_, err = FieldID("empty")(doc)
	assert.ErrorIs(t, err, record.ErrNilID)
}

func TestUUIDFieldID(t *testing.T) {
	doc := record.New()
	doc.Set("uuid", "{6BA7B810-9DAD-11D1-80B4-00C04FD430C8}")
	doc.Set("bad", "not-a-uuid")

	id, err := UUIDFieldID("uuid")(doc)
	require.NoError(t, err)
	assert.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", id)

	_, err = UUIDFieldID("bad")(doc)
	assert.Error(t, err)
}

func TestUUIDFieldID_Binary(t *testing.T) {
	doc := record.FromColumns(
		[]string{"uuid", "short"},
		[]any{
			[]byte{0x6b, 0xa7, 0xb8, 0x10, 0x9d, 0xad, 0x11, 0xd1, 0x80, 0xb4, 0x00, 0xc0, 0x4f, 0xd4, 0x30, 0xc8},
			record.Binary{0xff, 0xfe},
		},
	)

	id, err := UUIDFieldID("uuid")(doc)
	require.NoError(t, err)
	assert.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", id)

	_, err = UUIDFieldID("short")(doc)
	assert.Error(t, err)
}

func TestIDFuncFor(t *testing.T) {
	assert.Nil(t, IDFuncFor("", "raw"))

	doc := record.New()
	doc.Set("uuid", "6BA7B810-9DAD-11D1-80B4-00C04FD430C8")

	raw, err := IDFuncFor("uuid", "raw")(doc)
	require.NoError(t, err)
	assert.Equal(t, "6BA7B810-9DAD-11D1-80B4-00C04FD430C8", raw)

	canonical, err := IDFuncFor("uuid", "uuid")(doc)
	require.NoError(t, err)
	assert.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", canonical)
}
