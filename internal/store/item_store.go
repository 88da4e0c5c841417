package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vbonduro/invtrack/internal/domain"
	"github.com/vbonduro/invtrack/internal/query"
)

// orderColumns maps sort keys to SQL. The id tie-break keeps ordering stable
// for equal keys.
var orderColumns = map[domain.SortKey]string{
	domain.SortByName:     "name ASC, id ASC",
	domain.SortByQuantity: "quantity ASC, id ASC",
	domain.SortByCategory: "category ASC, id ASC",
}

type ItemStore struct {
	db   *sql.DB
	feed *feed
}

func NewItemStore(db *sql.DB) *ItemStore {
	return &ItemStore{db: db, feed: newFeed()}
}

// Create stores a new item with quantity 1 under a fresh identifier.
func (s *ItemStore) Create(ctx context.Context, name string, category domain.Category) (*domain.Item, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, name, quantity, category) VALUES (?, ?, 1, ?)
	`, id, name, string(category))
	if err != nil {
		return nil, fmt.Errorf("failed to create item: %w", err)
	}
	s.feed.broadcast()

	return s.GetByID(ctx, id)
}

// GetByID returns (nil, nil) when no item has the given id.
func (s *ItemStore) GetByID(ctx context.Context, id string) (*domain.Item, error) {
	item := &domain.Item{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, quantity, category, created_at, updated_at FROM items WHERE id = ?
	`, id).Scan(&item.ID, &item.Name, &item.Quantity, &item.Category, &item.CreatedAt, &item.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	return item, nil
}

// List returns the items matching spec in spec order.
func (s *ItemStore) List(ctx context.Context, spec query.Spec) ([]domain.Item, error) {
	return list(ctx, s.db, spec)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func list(ctx context.Context, q queryer, spec query.Spec) ([]domain.Item, error) {
	order, ok := orderColumns[spec.OrderBy]
	if !ok {
		order = orderColumns[domain.SortByName]
	}

	stmt := `SELECT id, name, quantity, category, created_at, updated_at FROM items`
	var args []any
	if spec.Filtered() {
		stmt += ` WHERE category = ?`
		args = append(args, string(spec.Category))
	}
	stmt += ` ORDER BY ` + order

	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	items := make([]domain.Item, 0)
	for rows.Next() {
		var item domain.Item
		if err := rows.Scan(&item.ID, &item.Name, &item.Quantity, &item.Category, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}

	return items, nil
}

// MergeQuantity sets quantity to `to` only if it is still `from`. It returns
// domain.ErrNotFound if the item is gone and domain.ErrConflict if another
// writer changed the quantity first.
func (s *ItemStore) MergeQuantity(ctx context.Context, id string, from, to int) error {
	if to < 1 {
		return fmt.Errorf("%w: quantity must be at least 1, got %d", domain.ErrInvalidItem, to)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE items SET quantity = ?, updated_at = datetime('now') WHERE id = ? AND quantity = ?
	`, to, id, from)
	if err != nil {
		return fmt.Errorf("failed to update quantity: %w", err)
	}
	if err := s.checkConditional(ctx, result, id); err != nil {
		return err
	}
	s.feed.broadcast()
	return nil
}

// MergeFields overwrites name and category, leaving quantity untouched.
func (s *ItemStore) MergeFields(ctx context.Context, id, name string, category domain.Category) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE items SET name = ?, category = ?, updated_at = datetime('now') WHERE id = ?
	`, name, string(category), id)
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrNotFound
	}

	s.feed.broadcast()
	return nil
}

// Put writes the whole document under item.ID, creating it if absent.
func (s *ItemStore) Put(ctx context.Context, item domain.Item) error {
	if item.Quantity < 1 {
		return fmt.Errorf("%w: quantity must be at least 1, got %d", domain.ErrInvalidItem, item.Quantity)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, name, quantity, category) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			quantity = excluded.quantity,
			category = excluded.category,
			updated_at = datetime('now')
	`, item.ID, item.Name, item.Quantity, string(item.Category))
	if err != nil {
		return fmt.Errorf("failed to put item: %w", err)
	}
	s.feed.broadcast()
	return nil
}

func (s *ItemStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM items WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrNotFound
	}

	s.feed.broadcast()
	return nil
}

// DeleteIfQuantity deletes the item only while its quantity equals qty, with
// the same error contract as MergeQuantity.
func (s *ItemStore) DeleteIfQuantity(ctx context.Context, id string, qty int) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM items WHERE id = ? AND quantity = ?
	`, id, qty)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	if err := s.checkConditional(ctx, result, id); err != nil {
		return err
	}
	s.feed.broadcast()
	return nil
}

// checkConditional turns a zero-row conditional write into ErrNotFound or
// ErrConflict.
func (s *ItemStore) checkConditional(ctx context.Context, result sql.Result, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	current, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if current == nil {
		return domain.ErrNotFound
	}
	return domain.ErrConflict
}

// Revision returns the store-wide commit counter. It increases on every
// insert, update, and delete, from this process or any other.
func (s *ItemStore) Revision(ctx context.Context) (int64, error) {
	var rev int64
	err := s.db.QueryRowContext(ctx, `SELECT revision FROM item_revisions WHERE id = 1`).Scan(&rev)
	if err != nil {
		return 0, fmt.Errorf("failed to read revision: %w", err)
	}
	return rev, nil
}

// Watch polls the revision counter every interval and wakes subscribers when
// another process wrote to the database. It returns when ctx is done.
func (s *ItemStore) Watch(ctx context.Context, interval time.Duration) {
	// -1 forces one wake-up on the first tick; subscribers skip snapshots
	// whose revision they already pushed.
	last := int64(-1)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rev, err := s.Revision(ctx)
			if err != nil {
				if ctx.Err() == nil {
					slog.Error("failed to poll revision", "error", err)
				}
				continue
			}
			if rev != last {
				last = rev
				s.feed.broadcast()
			}
		}
	}
}
