package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMapping(t *testing.T) {
	t.Run("empty path yields reference mapping", func(t *testing.T) {
		m, err := LoadMapping("")
		require.NoError(t, err)
		assert.Equal(t, ReferenceMapping(), m)
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "mapping.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"mappings":{"properties":{"email":{"type":"keyword"}}}}`), 0o600))

		m, err := LoadMapping(path)
		require.NoError(t, err)
		assert.Nil(t, m.Settings)
		assert.Contains(t, m.Mappings, "properties")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadMapping(filepath.Join(t.TempDir(), "nope.json"))
		assert.Error(t, err)
	})

	t.Run("no sections", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "mapping.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"properties":{}}`), 0o600))
		_, err := LoadMapping(path)
		assert.ErrorContains(t, err, "neither settings nor mappings")
	})
}
