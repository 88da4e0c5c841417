package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/vbonduro/invtrack/internal/domain"
)

// itemRepository is the subset of store.ItemStore that InventoryService requires.
type itemRepository interface {
	Create(ctx context.Context, name string, category domain.Category) (*domain.Item, error)
	GetByID(ctx context.Context, id string) (*domain.Item, error)
	MergeQuantity(ctx context.Context, id string, from, to int) error
	MergeFields(ctx context.Context, id, name string, category domain.Category) error
	DeleteIfQuantity(ctx context.Context, id string, qty int) error
}

// maxDecrementAttempts bounds the re-read after a conditional write lost to
// a writer outside this process.
const maxDecrementAttempts = 3

// Decrement describes the outcome of DecrementOrDelete.
type Decrement struct {
	ID       string
	Removed  bool
	Quantity int // remaining quantity; zero when Removed
}

type InventoryService struct {
	items  itemRepository
	locks  *keyedMutex
	logger *slog.Logger
}

func NewInventoryService(items itemRepository, logger *slog.Logger) *InventoryService {
	return &InventoryService{
		items:  items,
		locks:  newKeyedMutex(),
		logger: logger,
	}
}

// IncrementOrCreate always creates a new document with quantity 1, even when
// an item with the same name and category exists.
func (s *InventoryService) IncrementOrCreate(ctx context.Context, name string, category domain.Category) (*domain.Item, error) {
	name = strings.TrimSpace(name)
	if err := domain.ValidateFields(name, category); err != nil {
		return nil, err
	}

	item, err := s.items.Create(ctx, name, category)
	if err != nil {
		return nil, fmt.Errorf("failed to create item: %w", err)
	}
	s.logger.Debug("item created", "id", item.ID, "name", item.Name, "category", item.Category)
	return item, nil
}

// DecrementOrDelete lowers the quantity of id by one, deleting the document
// when it would reach zero. Decrements of the same id are serialized in this
// process and the write is conditional on the quantity that was read, so
// concurrent decrements never collapse into one.
func (s *InventoryService) DecrementOrDelete(ctx context.Context, id string) (Decrement, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	for attempt := 1; attempt <= maxDecrementAttempts; attempt++ {
		item, err := s.items.GetByID(ctx, id)
		if err != nil {
			return Decrement{}, fmt.Errorf("failed to read item: %w", err)
		}
		if item == nil {
			return Decrement{}, fmt.Errorf("decrement %s: %w", id, domain.ErrNotFound)
		}

		if item.Quantity <= 1 {
			err = s.items.DeleteIfQuantity(ctx, id, item.Quantity)
		} else {
			err = s.items.MergeQuantity(ctx, id, item.Quantity, item.Quantity-1)
		}
		switch {
		case errors.Is(err, domain.ErrConflict):
			s.logger.Warn("decrement lost a race, re-reading", "id", id, "attempt", attempt)
			continue
		case errors.Is(err, domain.ErrNotFound):
			return Decrement{}, fmt.Errorf("decrement %s: %w", id, domain.ErrNotFound)
		case err != nil:
			return Decrement{}, fmt.Errorf("failed to decrement item: %w", err)
		}

		if item.Quantity <= 1 {
			s.logger.Debug("item removed", "id", id)
			return Decrement{ID: id, Removed: true}, nil
		}
		s.logger.Debug("item decremented", "id", id, "quantity", item.Quantity-1)
		return Decrement{ID: id, Quantity: item.Quantity - 1}, nil
	}
	return Decrement{}, fmt.Errorf("decrement %s: %w", id, domain.ErrConflict)
}

// ReplaceFields overwrites name and category of id and returns the stored
// item. Quantity is left untouched.
func (s *InventoryService) ReplaceFields(ctx context.Context, id, name string, category domain.Category) (*domain.Item, error) {
	name = strings.TrimSpace(name)
	if err := domain.ValidateFields(name, category); err != nil {
		return nil, err
	}

	if err := s.items.MergeFields(ctx, id, name, category); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("edit %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to update item: %w", err)
	}

	item, err := s.items.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read item: %w", err)
	}
	if item == nil {
		// Deleted between the write and the read.
		return nil, fmt.Errorf("edit %s: %w", id, domain.ErrNotFound)
	}
	return item, nil
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
