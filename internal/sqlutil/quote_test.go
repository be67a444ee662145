package sqlutil

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "Simple table name", input: "users", expected: "`users`"},
		{name: "Mixed case", input: "MyTable", expected: "`MyTable`"},
		{name: "Empty string", input: "", expected: "``"},
		{name: "Single backtick", input: "my`table", expected: "`my``table`"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, QuoteIdentifier(tt.input))
		})
	}
}

func TestQuoteIdentifierANSI(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "Cursor name", input: "esload_products", expected: `"esload_products"`},
		{name: "Mixed case is preserved", input: "Products", expected: `"Products"`},
		{name: "Embedded quote is doubled", input: `a"b`, expected: `"a""b"`},
		{name: "Empty string", input: "", expected: `""`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, QuoteIdentifierANSI(tt.input))
		})
	}
}

func TestIsValidIdentifier(t *testing.T) {
	valid := []string{"users", "order_items", "Table123", "_private"}
	for _, name := range valid {
		assert.True(t, IsValidIdentifier(name), "expected %q to be valid", name)
	}

	invalid := []string{"", "my table", "users;DROP", "a-b", "naïve", `x"y`}
	for _, name := range invalid {
		assert.False(t, IsValidIdentifier(name), "expected %q to be invalid", name)
	}
}

func TestQuoteIdentifierSafe(t *testing.T) {
	quoted, err := QuoteIdentifierSafe("esload_cursor")
	require.NoError(t, err)
	assert.Equal(t, `"esload_cursor"`, quoted)

	_, err = QuoteIdentifierSafe(`cur"; DROP TABLE users; --`)
	require.Error(t, err)

	var invalid *InvalidIdentifierError
	require.True(t, errors.As(err, &invalid))
	assert.Contains(t, invalid.Error(), "invalid identifier")
}

func TestSanitizeIdentifier(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"products", "products"},
		{"daily-products", "daily_products"},
		{"a b.c", "a_b_c"},
		{"", "_"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := SanitizeIdentifier(tt.input)
			assert.Equal(t, tt.expected, got)
			assert.True(t, IsValidIdentifier(got))
		})
	}
}
