package web

import (
	"context"
	"net/http"
	"strings"

	"github.com/starfederation/datastar-go/datastar"

	"github.com/vbonduro/invtrack/internal/export"
	"github.com/vbonduro/invtrack/internal/shell"
)

const maxItemNameLen = 200

// session returns the caller's existing shell. Only the page itself starts
// sessions: without one, Datastar requests get 204 and anything else is sent
// to the page.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*shell.Shell, bool) {
	if sh, ok := s.sessions.lookup(r); ok {
		return sh, true
	}
	if isDatastar(r) {
		w.WriteHeader(http.StatusNoContent)
	} else {
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
	return nil, false
}

func isDatastar(r *http.Request) bool {
	return r.Header.Get("Datastar-Request") == "true"
}

// respond finishes an intent. Datastar requests get the app re-rendered over
// SSE; plain form posts are redirected back to the page.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, sh *shell.Shell) {
	if !isDatastar(r) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	sse := datastar.NewSSE(w, r)
	if err := s.patchApp(sse, sh); err != nil {
		s.logger.Error("patch app failed", "error", err)
	}
}

func (s *Server) patchApp(sse *datastar.ServerSentEventGenerator, sh *shell.Shell) error {
	html, err := s.renderString("app", s.pageFor(sh))
	if err != nil {
		return err
	}
	return sse.PatchElements(html, datastar.WithSelector("#app"), datastar.WithMode(datastar.ElementPatchModeOuter))
}

// mutationContext detaches a mutation from the request so it always runs to
// completion.
func mutationContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	sh, err := s.sessions.forRequest(w, r)
	if err != nil {
		http.Error(w, "session unavailable", http.StatusInternalServerError)
		s.logger.Error("open session failed", "error", err)
		return
	}
	s.render(w, "base", s.pageFor(sh))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	sh, ok := s.session(w, r)
	if !ok {
		return
	}
	sh.SetSearchTerm(strings.TrimSpace(r.FormValue("search")))
	s.respond(w, r, sh)
}

func (s *Server) handleSort(w http.ResponseWriter, r *http.Request) {
	sh, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sh.SetSortKey(r.FormValue("sort")); err != nil {
		http.Error(w, "unknown sort key", http.StatusBadRequest)
		return
	}
	s.respond(w, r, sh)
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	sh, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sh.SetFilterCategory(r.FormValue("category")); err != nil {
		http.Error(w, "unknown category", http.StatusBadRequest)
		return
	}
	s.respond(w, r, sh)
}

func (s *Server) handleSubmitEditor(w http.ResponseWriter, r *http.Request) {
	sh, ok := s.session(w, r)
	if !ok {
		return
	}
	name := strings.TrimSpace(r.FormValue("name"))
	if len(name) > maxItemNameLen {
		http.Error(w, "item name too long", http.StatusBadRequest)
		return
	}
	sh.SubmitEditor(mutationContext(r), name, r.FormValue("category"))
	s.respond(w, r, sh)
}

func (s *Server) handleIncrement(w http.ResponseWriter, r *http.Request) {
	sh, ok := s.session(w, r)
	if !ok {
		return
	}
	item, found := sh.Item(r.PathValue("id"))
	if !found {
		http.NotFound(w, r)
		return
	}
	sh.Increment(mutationContext(r), item.Name, item.Category)
	s.respond(w, r, sh)
}

func (s *Server) handleDecrement(w http.ResponseWriter, r *http.Request) {
	sh, ok := s.session(w, r)
	if !ok {
		return
	}
	sh.Decrement(mutationContext(r), r.PathValue("id"))
	s.respond(w, r, sh)
}

func (s *Server) handleEditItem(w http.ResponseWriter, r *http.Request) {
	sh, ok := s.session(w, r)
	if !ok {
		return
	}
	item, found := sh.Item(r.PathValue("id"))
	if !found {
		http.NotFound(w, r)
		return
	}
	sh.OpenEditor(&item)
	s.respond(w, r, sh)
}

func (s *Server) handleOpenEditor(w http.ResponseWriter, r *http.Request) {
	sh, ok := s.session(w, r)
	if !ok {
		return
	}
	sh.OpenEditor(nil)
	s.respond(w, r, sh)
}

func (s *Server) handleCloseEditor(w http.ResponseWriter, r *http.Request) {
	sh, ok := s.session(w, r)
	if !ok {
		return
	}
	sh.CloseEditor()
	s.respond(w, r, sh)
}

func (s *Server) handleToggleDrawer(w http.ResponseWriter, r *http.Request) {
	sh, ok := s.session(w, r)
	if !ok {
		return
	}
	sh.ToggleChartDrawer()
	s.respond(w, r, sh)
}

func (s *Server) handleToggleTheme(w http.ResponseWriter, r *http.Request) {
	sh, ok := s.session(w, r)
	if !ok {
		return
	}
	sh.ToggleDarkMode()
	s.respond(w, r, sh)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sh, ok := s.session(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", export.ContentDisposition())
	if err := sh.ExportCSV(w); err != nil {
		s.logger.Error("export failed", "error", err)
	}
}
