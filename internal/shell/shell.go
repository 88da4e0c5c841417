// Package shell holds the state of one browser session and turns user intents
// into list-control changes, mutations, and sign-in steps. Rendering is left
// to the web package; the shell only exposes a View to render from.
package shell

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vbonduro/invtrack/internal/domain"
	"github.com/vbonduro/invtrack/internal/export"
	"github.com/vbonduro/invtrack/internal/identity"
	"github.com/vbonduro/invtrack/internal/query"
	"github.com/vbonduro/invtrack/internal/service"
	"github.com/vbonduro/invtrack/internal/viewsync"
)

// Mutations is the subset of service.InventoryService that Shell requires.
type Mutations interface {
	IncrementOrCreate(ctx context.Context, name string, category domain.Category) (*domain.Item, error)
	DecrementOrDelete(ctx context.Context, id string) (service.Decrement, error)
	ReplaceFields(ctx context.Context, id, name string, category domain.Category) (*domain.Item, error)
}

// Draft is the editor's working copy. An empty ID means a new item.
type Draft struct {
	ID       string
	Name     string
	Category domain.Category
}

func (d Draft) Editing() bool { return d.ID != "" }

type UI struct {
	SearchTerm     string
	SortKey        domain.SortKey
	FilterCategory domain.Category
	EditorOpen     bool
	DrawerOpen     bool
	DarkMode       bool
	Draft          Draft
}

// View is everything a page needs to render.
type View struct {
	UI       UI
	Identity identity.Identity
	Items    []domain.Item
	Chart    viewsync.Series
	Version  uint64
	SyncedAt time.Time
}

type Shell struct {
	ops    Mutations
	view   *viewsync.Controller
	auth   identity.Provider
	logger *slog.Logger

	// inputsMu keeps list-control changes reaching the controller in the
	// order they were made.
	inputsMu sync.Mutex

	mu          sync.Mutex
	ui          UI
	identity    identity.Identity
	signInState string
}

// Open starts a session sorted by name with no filter.
func Open(source viewsync.Source, ops Mutations, auth identity.Provider, logger *slog.Logger) (*Shell, error) {
	s := &Shell{
		ops:    ops,
		view:   viewsync.New(source, logger),
		auth:   auth,
		logger: logger,
		ui:     UI{SortKey: domain.SortByName},
	}
	if err := s.view.SetInputs(s.inputsLocked()); err != nil {
		s.view.Close()
		return nil, fmt.Errorf("failed to open view: %w", err)
	}
	return s, nil
}

func (s *Shell) inputsLocked() query.Inputs {
	return query.Inputs{
		Search:   s.ui.SearchTerm,
		Sort:     s.ui.SortKey,
		Category: s.ui.FilterCategory,
	}
}

// updateInputs applies fn to the UI state and pushes the resulting list
// controls to the controller.
func (s *Shell) updateInputs(fn func(ui *UI)) {
	s.inputsMu.Lock()
	defer s.inputsMu.Unlock()

	s.mu.Lock()
	fn(&s.ui)
	in := s.inputsLocked()
	s.mu.Unlock()

	if err := s.view.SetInputs(in); err != nil {
		s.logger.Error("failed to apply list controls", "sort", in.Sort, "category", in.Category, "error", err)
	}
}

func (s *Shell) SetSearchTerm(term string) {
	s.updateInputs(func(ui *UI) { ui.SearchTerm = term })
}

// SetSortKey rejects unknown keys without touching the current view.
func (s *Shell) SetSortKey(raw string) error {
	key, err := domain.ParseSortKey(raw)
	if err != nil {
		return err
	}
	s.updateInputs(func(ui *UI) { ui.SortKey = key })
	return nil
}

// SetFilterCategory accepts "" to show every category.
func (s *Shell) SetFilterCategory(raw string) error {
	cat, err := domain.ParseCategory(raw)
	if err != nil {
		return err
	}
	s.updateInputs(func(ui *UI) { ui.FilterCategory = cat })
	return nil
}

// OpenEditor opens the editor on a copy of item, or on a blank draft when
// item is nil.
func (s *Shell) OpenEditor(item *domain.Item) {
	draft := Draft{Category: domain.CategoryOther}
	if item != nil {
		draft = Draft{ID: item.ID, Name: item.Name, Category: item.Category}
	}
	s.mu.Lock()
	s.ui.EditorOpen = true
	s.ui.Draft = draft
	s.mu.Unlock()
}

func (s *Shell) CloseEditor() {
	s.mu.Lock()
	s.ui.EditorOpen = false
	s.ui.Draft = Draft{}
	s.mu.Unlock()
}

// SubmitEditor creates a new item or edits the drafted one. On failure the
// editor stays open with the submitted values.
func (s *Shell) SubmitEditor(ctx context.Context, name, category string) {
	s.mu.Lock()
	draft := s.ui.Draft
	draft.Name = name
	draft.Category = domain.Category(category)
	s.ui.Draft = draft
	s.mu.Unlock()

	cat, err := domain.ParseCategory(category)
	if err != nil {
		s.logger.Warn("editor rejected", "error", err)
		return
	}

	if !draft.Editing() {
		if !s.create(ctx, name, cat) {
			return
		}
		s.CloseEditor()
		return
	}

	item, err := s.ops.ReplaceFields(ctx, draft.ID, name, cat)
	if err != nil {
		s.logger.Error("failed to edit item", "item_id", draft.ID, "error", err)
		return
	}
	s.view.ApplyEdited(*item)
	s.CloseEditor()
}

// Increment adds another item with the same name and category. Items are
// never merged by name.
func (s *Shell) Increment(ctx context.Context, name string, category domain.Category) {
	s.create(ctx, name, category)
}

func (s *Shell) create(ctx context.Context, name string, category domain.Category) bool {
	item, err := s.ops.IncrementOrCreate(ctx, name, category)
	if err != nil {
		s.logger.Error("failed to create item", "name", name, "category", category, "error", err)
		return false
	}
	s.view.ApplyCreated(*item)
	return true
}

// Decrement lowers the quantity of id by one, removing the item at zero. A
// missing item is reported and leaves the view untouched.
func (s *Shell) Decrement(ctx context.Context, id string) {
	res, err := s.ops.DecrementOrDelete(ctx, id)
	if err != nil {
		s.logger.Error("failed to decrement item", "item_id", id, "error", err)
		return
	}
	if res.Removed {
		s.view.ApplyRemoved(id)
		return
	}
	s.view.ApplyQuantity(id, res.Quantity)
}

func (s *Shell) ToggleChartDrawer() {
	s.mu.Lock()
	s.ui.DrawerOpen = !s.ui.DrawerOpen
	s.mu.Unlock()
}

func (s *Shell) ToggleDarkMode() {
	s.mu.Lock()
	s.ui.DarkMode = !s.ui.DarkMode
	s.mu.Unlock()
}

// ExportCSV writes the items currently visible, in view order.
func (s *Shell) ExportCSV(w io.Writer) error {
	return export.WriteCSV(w, s.view.State().Items)
}

// Item looks up a visible item by id.
func (s *Shell) Item(id string) (domain.Item, bool) {
	for _, it := range s.view.State().Items {
		if it.ID == id {
			return it, true
		}
	}
	return domain.Item{}, false
}

// BeginSignIn starts a sign-in attempt and returns where to send the browser.
// Starting a new attempt abandons the previous one.
func (s *Shell) BeginSignIn() string {
	state := uuid.NewString()
	s.mu.Lock()
	s.signInState = state
	s.mu.Unlock()
	return s.auth.LoginURL(state)
}

// SignIn completes the attempt started by BeginSignIn. On failure the
// session stays signed out.
func (s *Shell) SignIn(ctx context.Context, params url.Values) error {
	s.mu.Lock()
	want := s.signInState
	s.signInState = ""
	s.mu.Unlock()

	if err := identity.CallbackError(params); err != nil {
		return err
	}
	if want == "" || params.Get("state") != want {
		return fmt.Errorf("%w: sign-in state mismatch", identity.ErrAuthFailed)
	}

	id, err := s.auth.SignIn(ctx, params)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.identity = id
	s.mu.Unlock()
	s.logger.Info("signed in", "provider", s.auth.Name(), "handle", id.Handle)
	return nil
}

func (s *Shell) SignOut(ctx context.Context) {
	s.mu.Lock()
	id := s.identity
	s.identity = identity.Identity{}
	s.mu.Unlock()

	if !id.Present() {
		return
	}
	if err := s.auth.SignOut(ctx, id); err != nil {
		s.logger.Error("failed to sign out", "provider", s.auth.Name(), "error", err)
	}
}

func (s *Shell) Identity() identity.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

func (s *Shell) View() View {
	st := s.view.State()
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		UI:       s.ui,
		Identity: s.identity,
		Items:    st.Items,
		Chart:    st.Chart,
		Version:  st.Version,
		SyncedAt: st.SyncedAt,
	}
}

// Watch reports changes to the synced view. See viewsync.Controller.Watch.
func (s *Shell) Watch() (<-chan struct{}, func()) {
	return s.view.Watch()
}

// Close ends the session's subscription.
func (s *Shell) Close() {
	s.view.Close()
}
