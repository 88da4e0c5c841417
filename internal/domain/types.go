package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

var (
	// ErrNotFound is returned when an operation targets a document that no
	// longer exists.
	ErrNotFound = errors.New("item not found")
	// ErrInvalidItem is returned for an empty name or an unknown category.
	ErrInvalidItem = errors.New("invalid item")
	// ErrConflict is returned when a conditional write observed a different
	// quantity than the caller read.
	ErrConflict = errors.New("item was modified concurrently")
)

type Category string

const (
	CategoryElectronics Category = "Electronics"
	CategoryClothing    Category = "Clothing"
	CategoryFood        Category = "Food"
	CategoryBooks       Category = "Books"
	CategoryOther       Category = "Other"
)

// Categories is the closed set of item categories, in display order.
var Categories = []Category{
	CategoryElectronics,
	CategoryClothing,
	CategoryFood,
	CategoryBooks,
	CategoryOther,
}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory accepts "" (no filter) or one of Categories.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.TrimSpace(s))
	if c == "" || c.Valid() {
		return c, nil
	}
	return "", fmt.Errorf("%w: unknown category %q", ErrInvalidItem, s)
}

type SortKey string

const (
	SortByName     SortKey = "name"
	SortByQuantity SortKey = "quantity"
	SortByCategory SortKey = "category"
)

var SortKeys = []SortKey{SortByName, SortByQuantity, SortByCategory}

func (k SortKey) Valid() bool {
	switch k {
	case SortByName, SortByQuantity, SortByCategory:
		return true
	}
	return false
}

func ParseSortKey(s string) (SortKey, error) {
	k := SortKey(strings.TrimSpace(s))
	if k.Valid() {
		return k, nil
	}
	return "", fmt.Errorf("unknown sort key %q", s)
}

type Item struct {
	ID        string
	Name      string
	Quantity  int
	Category  Category
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DisplayName upper-cases the first letter of the name. Storage and
// comparisons always use the raw name.
func (i Item) DisplayName() string {
	r, size := utf8.DecodeRuneInString(i.Name)
	if r == utf8.RuneError {
		return i.Name
	}
	return string(unicode.ToUpper(r)) + i.Name[size:]
}

// ValidateFields checks the user-editable fields of an item.
func ValidateFields(name string, category Category) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidItem)
	}
	if !category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidItem, category)
	}
	return nil
}
