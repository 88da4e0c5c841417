package viewsync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vbonduro/invtrack/internal/db"
	"github.com/vbonduro/invtrack/internal/domain"
	"github.com/vbonduro/invtrack/internal/query"
	"github.com/vbonduro/invtrack/internal/store"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

type fakePush struct {
	snap store.Snapshot
	err  error
}

// fakeSub hands out whatever the test pushes. Next ignores ctx on purpose:
// a transport can still deliver a push that was in flight when the
// subscription was canceled.
type fakeSub struct {
	pushes   chan fakePush
	canceled chan struct{}
	once     sync.Once
}

func newFakeSub() *fakeSub {
	return &fakeSub{pushes: make(chan fakePush, 8), canceled: make(chan struct{})}
}

func (f *fakeSub) Next(context.Context) (store.Snapshot, error) {
	p, ok := <-f.pushes
	if !ok {
		return store.Snapshot{}, store.ErrSubscriptionClosed
	}
	return p.snap, p.err
}

func (f *fakeSub) Cancel() { f.once.Do(func() { close(f.canceled) }) }

func (f *fakeSub) push(items ...domain.Item) { f.pushes <- fakePush{snap: store.Snapshot{Items: items}} }

func (f *fakeSub) isCanceled() bool {
	select {
	case <-f.canceled:
		return true
	default:
		return false
	}
}

type fakeSource struct {
	mu    sync.Mutex
	subs  []*fakeSub
	specs []query.Spec
	err   error
}

func (s *fakeSource) Subscribe(_ context.Context, spec query.Spec) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	sub := newFakeSub()
	s.subs = append(s.subs, sub)
	s.specs = append(s.specs, spec)
	return sub, nil
}

func (s *fakeSource) sub(i int) *fakeSub {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs[i]
}

func (s *fakeSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// newFakeController wires a controller to a fake source and tears both down
// at the end of the test.
func newFakeController(t *testing.T) (*Controller, *fakeSource) {
	t.Helper()
	src := &fakeSource{}
	c := New(src, slog.Default())
	t.Cleanup(func() {
		src.mu.Lock()
		for _, sub := range src.subs {
			close(sub.pushes)
		}
		src.mu.Unlock()
		c.Close()
	})
	return c, src
}

func item(id, name string, qty int, cat domain.Category) domain.Item {
	return domain.Item{ID: id, Name: name, Quantity: qty, Category: cat}
}

func itemNames(items []domain.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Name)
	}
	return out
}

func TestController_SnapshotBecomesViewAndChart(t *testing.T) {
	c, src := newFakeController(t)
	require.NoError(t, c.SetInputs(query.Inputs{Sort: domain.SortByName}))

	src.sub(0).push(
		item("1", "Lamp", 2, domain.CategoryElectronics),
		item("2", "Atlas", 5, domain.CategoryBooks),
	)
	require.Eventually(t, func() bool { return len(c.State().Items) == 2 }, waitFor, tick)

	st := c.State()
	assert.True(t, st.Subscribed)
	assert.Equal(t, []string{"Lamp", "Atlas"}, itemNames(st.Items), "snapshot order is preserved")
	assert.Equal(t, Series{Labels: []string{"Lamp", "Atlas"}, Data: []int{2, 5}}, st.Chart)
	assert.Equal(t, 1, c.Stats().Snapshots)
}

func TestController_StalePushAfterResubscribeIsDiscarded(t *testing.T) {
	c, src := newFakeController(t)
	require.NoError(t, c.SetInputs(query.Inputs{Sort: domain.SortByName}))

	first := src.sub(0)
	first.push(item("1", "Atlas", 1, domain.CategoryBooks), item("2", "Lamp", 1, domain.CategoryElectronics))
	require.Eventually(t, func() bool { return len(c.State().Items) == 2 }, waitFor, tick)

	require.NoError(t, c.SetInputs(query.Inputs{Sort: domain.SortByName, Category: domain.CategoryBooks}))
	require.Equal(t, 2, src.count())
	assert.True(t, first.isCanceled())
	before := c.State()

	// The old subscription delivers one more push after being canceled.
	first.push(item("9", "Ghost", 42, domain.CategoryOther))
	require.Eventually(t, func() bool { return c.Stats().Stale == 1 }, waitFor, tick)

	after := c.State()
	if diff := cmp.Diff(before.Items, after.Items); diff != "" {
		t.Errorf("stale push changed the view (-before +after):\n%s", diff)
	}
	assert.Equal(t, before.Version, after.Version)

	second := src.sub(1)
	second.push(item("1", "Atlas", 1, domain.CategoryBooks))
	require.Eventually(t, func() bool { return len(c.State().Items) == 1 }, waitFor, tick)
	assert.Equal(t, []string{"Atlas"}, itemNames(c.State().Items))
}

func TestController_SearchChangeDoesNotResubscribe(t *testing.T) {
	c, src := newFakeController(t)
	require.NoError(t, c.SetInputs(query.Inputs{Sort: domain.SortByName}))
	src.sub(0).push(
		item("1", "Book", 1, domain.CategoryBooks),
		item("2", "Boot", 1, domain.CategoryClothing),
		item("3", "Pencil", 1, domain.CategoryOther),
	)
	require.Eventually(t, func() bool { return len(c.State().Items) == 3 }, waitFor, tick)

	require.NoError(t, c.SetInputs(query.Inputs{Search: "boo", Sort: domain.SortByName}))
	assert.Equal(t, 1, src.count())
	assert.Equal(t, []string{"Book", "Boot"}, itemNames(c.State().Items))
	assert.Equal(t, []string{"Book", "Boot"}, c.State().Chart.Labels)

	require.NoError(t, c.SetInputs(query.Inputs{Sort: domain.SortByName}))
	assert.Len(t, c.State().Items, 3)
}

func TestController_SortChangeResubscribes(t *testing.T) {
	c, src := newFakeController(t)
	require.NoError(t, c.SetInputs(query.Inputs{Sort: domain.SortByName}))
	require.NoError(t, c.SetInputs(query.Inputs{Sort: domain.SortByQuantity}))

	require.Equal(t, 2, src.count())
	assert.True(t, src.sub(0).isCanceled())
	assert.False(t, src.sub(1).isCanceled())
	assert.Equal(t, domain.SortByQuantity, src.specs[1].OrderBy)
}

func TestController_SubscriptionErrorKeepsView(t *testing.T) {
	c, src := newFakeController(t)
	require.NoError(t, c.SetInputs(query.Inputs{Sort: domain.SortByName}))
	sub := src.sub(0)
	sub.push(item("1", "Pen", 3, domain.CategoryOther))
	require.Eventually(t, func() bool { return len(c.State().Items) == 1 }, waitFor, tick)
	before := c.State()

	sub.pushes <- fakePush{err: errors.New("connection reset")}
	require.Eventually(t, func() bool { return c.Stats().Errors == 1 }, waitFor, tick)

	after := c.State()
	assert.Equal(t, before.Items, after.Items)
	assert.Equal(t, before.Version, after.Version)
	assert.True(t, after.Subscribed, "errors do not change the subscription state")
}

func TestController_SubscribeErrorKeepsView(t *testing.T) {
	c, src := newFakeController(t)
	require.NoError(t, c.SetInputs(query.Inputs{Sort: domain.SortByName}))
	src.sub(0).push(item("1", "Pen", 3, domain.CategoryOther))
	require.Eventually(t, func() bool { return len(c.State().Items) == 1 }, waitFor, tick)

	src.mu.Lock()
	src.err = errors.New("unavailable")
	src.mu.Unlock()

	err := c.SetInputs(query.Inputs{Sort: domain.SortByQuantity})
	assert.Error(t, err)
	assert.Equal(t, []string{"Pen"}, itemNames(c.State().Items))
}

func TestController_OptimisticPatches(t *testing.T) {
	c, src := newFakeController(t)
	require.NoError(t, c.SetInputs(query.Inputs{Sort: domain.SortByName}))
	src.sub(0).push(item("1", "Pen", 3, domain.CategoryOther))
	require.Eventually(t, func() bool { return len(c.State().Items) == 1 }, waitFor, tick)
	v := c.State().Version

	c.ApplyCreated(item("2", "Cup", 1, domain.CategoryOther))
	assert.Equal(t, []string{"Pen", "Cup"}, itemNames(c.State().Items))

	c.ApplyQuantity("1", 2)
	assert.Equal(t, 2, c.State().Items[0].Quantity)
	assert.Equal(t, []int{2, 1}, c.State().Chart.Data)

	c.ApplyEdited(item("1", "Quill", 2, domain.CategoryBooks))
	assert.Equal(t, "Quill", c.State().Items[0].Name)
	assert.Equal(t, domain.CategoryBooks, c.State().Items[0].Category)

	c.ApplyRemoved("2")
	assert.Equal(t, []string{"Quill"}, itemNames(c.State().Items))
	assert.Greater(t, c.State().Version, v)

	// Patches for unknown ids change nothing.
	v = c.State().Version
	c.ApplyRemoved("missing")
	c.ApplyQuantity("missing", 9)
	assert.Equal(t, v, c.State().Version)

	// The next snapshot wins over local patches.
	src.sub(0).push(item("1", "Pen", 3, domain.CategoryOther))
	require.Eventually(t, func() bool { return c.State().Items[0].Name == "Pen" }, waitFor, tick)
	assert.Len(t, c.State().Items, 1)
}

func TestController_ApplyCreatedAfterSnapshotDoesNotDuplicate(t *testing.T) {
	c, src := newFakeController(t)
	require.NoError(t, c.SetInputs(query.Inputs{Sort: domain.SortByName}))
	src.sub(0).push(item("1", "Pen", 1, domain.CategoryOther))
	require.Eventually(t, func() bool { return len(c.State().Items) == 1 }, waitFor, tick)
	v := c.State().Version

	c.ApplyCreated(item("1", "Pen", 1, domain.CategoryOther))

	st := c.State()
	assert.Len(t, st.Items, 1)
	assert.Equal(t, []int{1}, st.Chart.Data)
	assert.Equal(t, v, st.Version)
}

func TestController_PatchesRespectCategoryFilter(t *testing.T) {
	c, src := newFakeController(t)
	require.NoError(t, c.SetInputs(query.Inputs{Sort: domain.SortByName, Category: domain.CategoryBooks}))
	src.sub(0).push(item("1", "Atlas", 2, domain.CategoryBooks))
	require.Eventually(t, func() bool { return len(c.State().Items) == 1 }, waitFor, tick)

	c.ApplyCreated(item("2", "Apple", 1, domain.CategoryFood))
	assert.Equal(t, []string{"Atlas"}, itemNames(c.State().Items))

	c.ApplyCreated(item("3", "Primer", 1, domain.CategoryBooks))
	assert.Equal(t, []string{"Atlas", "Primer"}, itemNames(c.State().Items))

	// Editing an item into another category takes it out of the filtered view.
	c.ApplyEdited(item("1", "Atlas", 2, domain.CategoryOther))
	assert.Equal(t, []string{"Primer"}, itemNames(c.State().Items))
	assert.Equal(t, Series{Labels: []string{"Primer"}, Data: []int{1}}, c.State().Chart)
}

func TestController_WatchNotifies(t *testing.T) {
	c, src := newFakeController(t)
	ch, cancel := c.Watch()
	defer cancel()

	require.NoError(t, c.SetInputs(query.Inputs{Sort: domain.SortByName}))
	src.sub(0).push(item("1", "Pen", 1, domain.CategoryOther))

	select {
	case <-ch:
	case <-time.After(waitFor):
		t.Fatal("no change notification")
	}
}

func TestController_StateIsACopy(t *testing.T) {
	c, src := newFakeController(t)
	require.NoError(t, c.SetInputs(query.Inputs{Sort: domain.SortByName}))
	src.sub(0).push(item("1", "Pen", 1, domain.CategoryOther))
	require.Eventually(t, func() bool { return len(c.State().Items) == 1 }, waitFor, tick)

	st := c.State()
	st.Items[0].Name = "mutated"
	st.Chart.Labels[0] = "mutated"
	assert.Equal(t, "Pen", c.State().Items[0].Name)
	assert.Equal(t, "Pen", c.State().Chart.Labels[0])
}

func TestController_CloseIsTerminal(t *testing.T) {
	c, src := newFakeController(t)
	require.NoError(t, c.SetInputs(query.Inputs{Sort: domain.SortByName}))
	close(src.sub(0).pushes)
	src.mu.Lock()
	src.subs = nil
	src.mu.Unlock()

	c.Close()
	c.Close()
	assert.ErrorIs(t, c.SetInputs(query.Inputs{Sort: domain.SortByQuantity}), ErrClosed)
	assert.False(t, c.State().Subscribed)
}

// =============================================================================
// Against the real store
// =============================================================================

func newStore(t *testing.T) *store.ItemStore {
	t.Helper()
	d, err := db.OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return store.NewItemStore(d)
}

func seed(t *testing.T, items *store.ItemStore, name string, qty int, cat domain.Category) domain.Item {
	t.Helper()
	it := domain.Item{ID: uuid.NewString(), Name: name, Quantity: qty, Category: cat}
	require.NoError(t, items.Put(context.Background(), it))
	return it
}

func TestController_CategoryFilterWithStore(t *testing.T) {
	items := newStore(t)
	seed(t, items, "Lamp", 4, domain.CategoryElectronics)
	seed(t, items, "Atlas", 2, domain.CategoryBooks)
	seed(t, items, "Cable", 1, domain.CategoryElectronics)
	seed(t, items, "Sock", 9, domain.CategoryClothing)

	c := New(FromStore(items), slog.Default())
	defer c.Close()

	require.NoError(t, c.SetInputs(query.Inputs{Sort: domain.SortByQuantity, Category: domain.CategoryElectronics}))
	require.Eventually(t, func() bool { return len(c.State().Items) == 2 }, waitFor, tick)

	st := c.State()
	for _, it := range st.Items {
		assert.Equal(t, domain.CategoryElectronics, it.Category)
	}
	assert.Equal(t, []string{"Cable", "Lamp"}, itemNames(st.Items))
	assert.Equal(t, []int{1, 4}, st.Chart.Data)
}

func TestController_SearchWithStore(t *testing.T) {
	items := newStore(t)
	seed(t, items, "Book", 1, domain.CategoryBooks)
	seed(t, items, "Boot", 1, domain.CategoryClothing)
	seed(t, items, "Pencil", 1, domain.CategoryOther)

	c := New(FromStore(items), slog.Default())
	defer c.Close()

	require.NoError(t, c.SetInputs(query.Inputs{Search: "boo", Sort: domain.SortByName}))
	require.Eventually(t, func() bool { return c.Stats().Snapshots >= 1 }, waitFor, tick)
	assert.Equal(t, []string{"Book", "Boot"}, itemNames(c.State().Items))
}

func TestController_FollowsStoreWrites(t *testing.T) {
	items := newStore(t)
	c := New(FromStore(items), slog.Default())
	defer c.Close()

	require.NoError(t, c.SetInputs(query.Inputs{Sort: domain.SortByName}))
	require.Eventually(t, func() bool { return c.Stats().Snapshots >= 1 }, waitFor, tick)

	pen := seed(t, items, "Pen", 1, domain.CategoryOther)
	require.Eventually(t, func() bool { return len(c.State().Items) == 1 }, waitFor, tick)

	require.NoError(t, items.Delete(context.Background(), pen.ID))
	require.Eventually(t, func() bool { return len(c.State().Items) == 0 }, waitFor, tick)
}

func TestController_CloseLeavesNoGoroutines(t *testing.T) {
	items := newStore(t)
	ignore := goleak.IgnoreCurrent()

	c := New(FromStore(items), slog.Default())
	require.NoError(t, c.SetInputs(query.Inputs{Sort: domain.SortByName}))
	require.NoError(t, c.SetInputs(query.Inputs{Sort: domain.SortByCategory}))
	require.NoError(t, c.SetInputs(query.Inputs{Sort: domain.SortByCategory, Category: domain.CategoryFood}))
	require.Eventually(t, func() bool { return c.Stats().Snapshots >= 1 }, waitFor, tick)
	c.Close()

	goleak.VerifyNone(t, ignore)
}
