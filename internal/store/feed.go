package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vbonduro/invtrack/internal/domain"
	"github.com/vbonduro/invtrack/internal/query"
)

// ErrSubscriptionClosed is returned by Next after Cancel.
var ErrSubscriptionClosed = errors.New("subscription closed")

// feed fans out change notifications to subscribers without blocking
// writers. A subscriber that has not consumed the previous notification
// simply keeps it: snapshots are full lists, so one pending wake-up is
// enough.
type feed struct {
	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

func newFeed() *feed {
	return &feed{subs: map[chan struct{}]struct{}{}}
}

func (f *feed) subscribe() (ch chan struct{}, cancel func()) {
	ch = make(chan struct{}, 1)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()
	return ch, func() {
		f.mu.Lock()
		delete(f.subs, ch)
		f.mu.Unlock()
	}
}

func (f *feed) broadcast() {
	f.mu.Lock()
	for ch := range f.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	f.mu.Unlock()
}

// Snapshot is the full, ordered result of a Spec at one store revision.
type Snapshot struct {
	Revision int64
	Items    []domain.Item
}

type pushed struct {
	snap Snapshot
	err  error
}

// Subscription is a live query. The store pushes a new Snapshot whenever a
// write may have changed its result; only the newest undelivered push is
// kept.
type Subscription struct {
	store  *ItemStore
	spec   query.Spec
	out    chan pushed
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Subscribe opens a live query for spec. The first snapshot is pushed
// immediately. The subscription ends on Cancel or when ctx is done.
func (s *ItemStore) Subscribe(ctx context.Context, spec query.Spec) (*Subscription, error) {
	if spec.Filtered() && !spec.Category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", domain.ErrInvalidItem, spec.Category)
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		store:  s,
		spec:   spec,
		out:    make(chan pushed, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	wake, unsubscribe := s.feed.subscribe()
	go func() {
		defer close(sub.done)
		defer unsubscribe()
		sub.run(ctx, wake)
	}()
	return sub, nil
}

func (sub *Subscription) run(ctx context.Context, wake <-chan struct{}) {
	lastRev := int64(-1)
	for {
		snap, err := sub.store.snapshot(ctx, sub.spec)
		if ctx.Err() != nil {
			return
		}
		switch {
		case err != nil:
			sub.push(pushed{err: err})
		case snap.Revision != lastRev:
			lastRev = snap.Revision
			sub.push(pushed{snap: snap})
		}

		select {
		case <-ctx.Done():
			return
		case <-wake:
		}
	}
}

// push replaces any undelivered value with p.
func (sub *Subscription) push(p pushed) {
	select {
	case <-sub.out:
	default:
	}
	sub.out <- p
}

// Next blocks until the next snapshot, a query error, cancellation of the
// subscription (ErrSubscriptionClosed), or ctx is done.
func (sub *Subscription) Next(ctx context.Context) (Snapshot, error) {
	select {
	case <-sub.done:
		return Snapshot{}, ErrSubscriptionClosed
	default:
	}
	select {
	case p := <-sub.out:
		return p.snap, p.err
	case <-sub.done:
		return Snapshot{}, ErrSubscriptionClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Cancel stops the subscription and waits for its goroutine to exit. It is
// safe to call more than once.
func (sub *Subscription) Cancel() {
	sub.once.Do(sub.cancel)
	<-sub.done
}

// snapshot reads the revision and the matching items in one transaction so
// the pair is consistent.
func (s *ItemStore) snapshot(ctx context.Context, spec query.Spec) (Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to begin snapshot: %w", err)
	}
	// Read-only: rolling back is how the transaction ends.
	defer func() { _ = tx.Rollback() }()

	var snap Snapshot
	if err := tx.QueryRowContext(ctx, `SELECT revision FROM item_revisions WHERE id = 1`).Scan(&snap.Revision); err != nil {
		return Snapshot{}, fmt.Errorf("failed to read revision: %w", err)
	}
	items, err := list(ctx, tx, spec)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Items = items
	return snap, nil
}
