// Package viewsync keeps a session's view of the inventory in step with the
// store. A Controller owns at most one live subscription, replaces it when
// the query changes, and turns each pushed snapshot into view state and a
// chart series.
package viewsync

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/vbonduro/invtrack/internal/domain"
	"github.com/vbonduro/invtrack/internal/query"
	"github.com/vbonduro/invtrack/internal/store"
)

// ErrClosed is returned by SetInputs after Close.
var ErrClosed = errors.New("controller closed")

// Subscription is a cancelable stream of snapshots.
type Subscription interface {
	Next(ctx context.Context) (store.Snapshot, error)
	Cancel()
}

// Source opens subscriptions.
type Source interface {
	Subscribe(ctx context.Context, spec query.Spec) (Subscription, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, spec query.Spec) (Subscription, error)

func (f SourceFunc) Subscribe(ctx context.Context, spec query.Spec) (Subscription, error) {
	return f(ctx, spec)
}

// FromStore returns a Source backed by an item store.
func FromStore(items *store.ItemStore) Source {
	return SourceFunc(func(ctx context.Context, spec query.Spec) (Subscription, error) {
		sub, err := items.Subscribe(ctx, spec)
		if err != nil {
			return nil, err
		}
		return sub, nil
	})
}

// Series is the chart data for the current view: one point per visible
// item, in view order.
type Series struct {
	Labels []string
	Data   []int
}

// State is a copy of the view a Controller currently holds.
type State struct {
	Items      []domain.Item
	Chart      Series
	Inputs     query.Inputs
	Subscribed bool
	// Version increases on every accepted snapshot and every local patch.
	Version  uint64
	Revision int64
	SyncedAt time.Time
}

// Stats counts what the controller did with pushed snapshots.
type Stats struct {
	Snapshots int
	Stale     int
	Errors    int
}

type Controller struct {
	source Source
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	pumps  sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	inputs   query.Inputs
	spec     query.Spec
	gen      uint64
	sub      Subscription
	stopPump context.CancelFunc
	raw      []domain.Item
	state    State
	stats    Stats
	watchers map[chan struct{}]struct{}
}

func New(source Source, logger *slog.Logger) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		source:   source,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		watchers: make(map[chan struct{}]struct{}),
	}
}

// SetInputs applies new list controls. A change of sort key or category
// replaces the subscription; a change of search term alone is applied to the
// last snapshot without touching the store.
func (c *Controller) SetInputs(in query.Inputs) error {
	spec := query.Build(in)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.inputs = in
	if c.sub != nil && spec == c.spec {
		c.recomputeLocked()
		c.mu.Unlock()
		c.notify()
		return nil
	}

	old := c.detachLocked()
	c.spec = spec
	gen := c.gen
	c.mu.Unlock()

	if old != nil {
		old.Cancel()
	}

	sub, err := c.source.Subscribe(c.ctx, spec)
	if err != nil {
		c.logger.Error("failed to open subscription", "category", spec.Category, "order_by", spec.OrderBy, "error", err)
		c.mu.Lock()
		c.stats.Errors++
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	if c.closed || c.gen != gen {
		// Superseded while subscribing.
		c.mu.Unlock()
		sub.Cancel()
		return nil
	}
	pumpCtx, stop := context.WithCancel(c.ctx)
	c.sub = sub
	c.stopPump = stop
	c.state.Subscribed = true
	c.state.Inputs = in
	c.pumps.Add(1)
	c.mu.Unlock()

	c.logger.Debug("subscribed", "generation", gen, "category", spec.Category, "order_by", spec.OrderBy)
	go c.pump(pumpCtx, gen, sub)
	return nil
}

// detachLocked starts a new generation, so anything the old pump still
// delivers is discarded, and returns the old subscription. The caller
// cancels it after releasing mu since Cancel may wait for the producer.
func (c *Controller) detachLocked() Subscription {
	c.gen++
	if c.stopPump != nil {
		c.stopPump()
		c.stopPump = nil
	}
	old := c.sub
	c.sub = nil
	c.state.Subscribed = false
	return old
}

func (c *Controller) pump(ctx context.Context, gen uint64, sub Subscription) {
	defer c.pumps.Done()
	for {
		snap, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, store.ErrSubscriptionClosed) || ctx.Err() != nil {
				return
			}
			if !c.reportError(gen, err) {
				return
			}
			continue
		}
		c.deliver(gen, snap)
	}
}

// reportError logs a subscription error and leaves the view untouched. It
// returns false once the generation is stale.
func (c *Controller) reportError(gen uint64, err error) bool {
	c.mu.Lock()
	current := gen == c.gen && !c.closed
	if current {
		c.stats.Errors++
	}
	c.mu.Unlock()

	if current {
		c.logger.Error("subscription error", "generation", gen, "error", err)
	}
	return current
}

func (c *Controller) deliver(gen uint64, snap store.Snapshot) {
	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.stats.Stale++
		c.mu.Unlock()
		c.logger.Debug("discarded stale snapshot", "generation", gen, "revision", snap.Revision)
		return
	}
	c.raw = slices.Clone(snap.Items)
	c.stats.Snapshots++
	c.state.Revision = snap.Revision
	c.state.SyncedAt = time.Now()
	c.recomputeLocked()
	c.mu.Unlock()
	c.notify()
}

// recomputeLocked derives the visible items and the chart from the raw
// snapshot and bumps the version.
func (c *Controller) recomputeLocked() {
	items := query.FilterSearch(c.raw, c.inputs.Search)
	chart := Series{
		Labels: make([]string, 0, len(items)),
		Data:   make([]int, 0, len(items)),
	}
	for _, it := range items {
		chart.Labels = append(chart.Labels, it.Name)
		chart.Data = append(chart.Data, it.Quantity)
	}
	c.state.Items = items
	c.state.Chart = chart
	c.state.Inputs = c.inputs
	c.state.Version++
}

// ApplyCreated appends a freshly created item ahead of the snapshot that
// will confirm it. It does nothing when a snapshot already delivered the item
// or the active category filter excludes it.
func (c *Controller) ApplyCreated(item domain.Item) {
	c.patch(func() bool {
		if !c.matchesLocked(item) || c.indexLocked(item.ID) >= 0 {
			return false
		}
		c.raw = append(c.raw, item)
		return true
	})
}

// ApplyQuantity sets the quantity of one cached item.
func (c *Controller) ApplyQuantity(id string, quantity int) {
	c.patch(func() bool {
		for i := range c.raw {
			if c.raw[i].ID == id {
				c.raw[i].Quantity = quantity
				return true
			}
		}
		return false
	})
}

// ApplyRemoved drops one cached item.
func (c *Controller) ApplyRemoved(id string) {
	c.patch(func() bool {
		n := len(c.raw)
		c.raw = slices.DeleteFunc(c.raw, func(it domain.Item) bool { return it.ID == id })
		return len(c.raw) != n
	})
}

// ApplyEdited replaces the cached item with the same id, dropping it when the
// new category falls outside the active filter.
func (c *Controller) ApplyEdited(item domain.Item) {
	c.patch(func() bool {
		i := c.indexLocked(item.ID)
		if i < 0 {
			return false
		}
		if !c.matchesLocked(item) {
			c.raw = slices.Delete(c.raw, i, i+1)
			return true
		}
		c.raw[i] = item
		return true
	})
}

func (c *Controller) indexLocked(id string) int {
	return slices.IndexFunc(c.raw, func(it domain.Item) bool { return it.ID == id })
}

// matchesLocked reports whether item belongs to the subscribed query.
func (c *Controller) matchesLocked(item domain.Item) bool {
	return !c.spec.Filtered() || item.Category == c.spec.Category
}

func (c *Controller) patch(fn func() bool) {
	c.mu.Lock()
	if c.closed || !fn() {
		c.mu.Unlock()
		return
	}
	c.recomputeLocked()
	c.mu.Unlock()
	c.notify()
}

// State returns a copy of the current view.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	s.Items = slices.Clone(c.state.Items)
	s.Chart = Series{
		Labels: slices.Clone(c.state.Chart.Labels),
		Data:   slices.Clone(c.state.Chart.Data),
	}
	return s
}

func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Watch returns a channel that receives a value after the view changes.
// Notifications coalesce; read State after each one.
func (c *Controller) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	c.mu.Lock()
	c.watchers[ch] = struct{}{}
	c.mu.Unlock()
	return ch, func() {
		c.mu.Lock()
		delete(c.watchers, ch)
		c.mu.Unlock()
	}
}

func (c *Controller) notify() {
	c.mu.Lock()
	for ch := range c.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	c.mu.Unlock()
}

// Close cancels the subscription and waits for its pump to exit. The view
// is kept readable.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	old := c.detachLocked()
	c.mu.Unlock()

	if old != nil {
		old.Cancel()
	}
	c.cancel()
	c.pumps.Wait()
}
