package web

import (
	"net/http"
	"time"

	"github.com/starfederation/datastar-go/datastar"

	"github.com/vbonduro/invtrack/internal/shell"
)

const keepAliveInterval = 25 * time.Second

// liveParts are the page regions that follow the store; everything else only
// changes in response to the session's own intents.
var liveParts = []string{"inventory", "chart"}

// handleEvents streams the session's list and chart to the browser, patching
// both whenever the synced view changes.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sh, ok := s.session(w, r)
	if !ok {
		return
	}
	changes, stop := sh.Watch()
	defer stop()

	sse := datastar.NewSSE(w, r)
	if err := s.patchLive(sse, sh); err != nil {
		s.logger.Error("initial patch failed", "error", err)
		return
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-sse.Context().Done():
			return
		case <-keepAlive.C:
			_ = sse.PatchSignals([]byte(`{}`))
		case <-changes:
			if err := s.patchLive(sse, sh); err != nil {
				s.logger.Debug("event stream ended", "error", err)
				return
			}
		}
	}
}

func (s *Server) patchLive(sse *datastar.ServerSentEventGenerator, sh *shell.Shell) error {
	vm := s.pageFor(sh)
	for _, part := range liveParts {
		html, err := s.renderString(part, vm)
		if err != nil {
			return err
		}
		if err := sse.PatchElements(html, datastar.WithSelector("#"+part), datastar.WithMode(datastar.ElementPatchModeOuter)); err != nil {
			return err
		}
	}
	return nil
}
