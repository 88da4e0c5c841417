package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisplayName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"pen", "Pen"},
		{"Pen", "Pen"},
		{"ébauche", "Ébauche"},
		{"", ""},
		{"3d printer", "3d printer"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Item{Name: tt.name}.DisplayName(), "name %q", tt.name)
	}
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory("")
	require.NoError(t, err)
	assert.Equal(t, Category(""), c)

	c, err = ParseCategory("Books")
	require.NoError(t, err)
	assert.Equal(t, CategoryBooks, c)

	_, err = ParseCategory("books")
	assert.True(t, errors.Is(err, ErrInvalidItem))
}

func TestParseSortKey(t *testing.T) {
	for _, k := range SortKeys {
		got, err := ParseSortKey(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	_, err := ParseSortKey("price")
	assert.Error(t, err)
}

func TestValidateFields(t *testing.T) {
	assert.NoError(t, ValidateFields("Pen", CategoryOther))
	assert.ErrorIs(t, ValidateFields("  ", CategoryOther), ErrInvalidItem)
	assert.ErrorIs(t, ValidateFields("Pen", ""), ErrInvalidItem)
	assert.ErrorIs(t, ValidateFields("Pen", "Toys"), ErrInvalidItem)
}
