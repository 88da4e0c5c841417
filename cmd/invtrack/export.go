package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/vbonduro/invtrack/internal/db"
	"github.com/vbonduro/invtrack/internal/domain"
	"github.com/vbonduro/invtrack/internal/export"
	"github.com/vbonduro/invtrack/internal/query"
	"github.com/vbonduro/invtrack/internal/store"
)

func newExportCmd(a *app) *cobra.Command {
	var (
		category string
		sortKey  string
		search   string
		output   string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the inventory as CSV",
		Example: `  invtrack export --category Books --sort quantity -o books.csv
  invtrack export --search pen`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := domain.ParseCategory(category)
			if err != nil {
				return err
			}
			key, err := domain.ParseSortKey(sortKey)
			if err != nil {
				return err
			}
			in := query.Inputs{Search: search, Sort: key, Category: cat}
			write := func(w io.Writer) error {
				return exportItems(cmd.Context(), a.cfg.DBPath, in, w)
			}

			if output == "" || output == "-" {
				return write(cmd.OutOrStdout())
			}
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			return writeAndClose(f, write)
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "only items in this category")
	cmd.Flags().StringVar(&sortKey, "sort", string(domain.SortByName), "sort key: name, quantity or category")
	cmd.Flags().StringVar(&search, "search", "", "only items whose name contains this text")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

// exportItems writes the same projection the web view would show for in.
func exportItems(ctx context.Context, dbPath string, in query.Inputs, w io.Writer) error {
	database, err := db.Open(dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	items, err := store.NewItemStore(database).List(ctx, query.Build(in))
	if err != nil {
		return err
	}
	return export.WriteCSV(w, query.FilterSearch(items, in.Search))
}

// writeAndClose runs write against wc and closes it. A failed Close is
// returned unless write already failed.
func writeAndClose(wc io.WriteCloser, write func(io.Writer) error) (err error) {
	defer func() {
		if cerr := wc.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close output file: %w", cerr)
		}
	}()
	return write(wc)
}
