// Package export writes inventory items as CSV.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/vbonduro/invtrack/internal/domain"
)

// Filename is the name offered to browsers for the download.
const Filename = "inventory.csv"

var header = []string{"id", "name", "quantity", "category"}

// WriteCSV writes a header row and one row per item, in the given order.
func WriteCSV(w io.Writer, items []domain.Item) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, it := range items {
		row := []string{it.ID, it.Name, strconv.Itoa(it.Quantity), string(it.Category)}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row for item %s: %w", it.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}

// ContentDisposition is the header value that makes browsers save the export
// under Filename.
func ContentDisposition() string {
	return fmt.Sprintf("attachment; filename=%q", Filename)
}
