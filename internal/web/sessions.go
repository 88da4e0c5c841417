package web

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vbonduro/invtrack/internal/shell"
)

const sessionCookieName = "invtrack_session"

// sessions maps browser cookies to their shells. The least recently used
// session is closed once capacity is reached.
type sessions struct {
	mu     sync.Mutex
	cache  *lru.Cache[string, *shell.Shell]
	open   func() (*shell.Shell, error)
	logger *slog.Logger
}

func newSessions(capacity int, open func() (*shell.Shell, error), logger *slog.Logger) (*sessions, error) {
	cache, err := lru.NewWithEvict(capacity, func(id string, sh *shell.Shell) {
		sh.Close()
		logger.Debug("session closed", "session_id", id)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session cache: %w", err)
	}
	return &sessions{cache: cache, open: open, logger: logger}, nil
}

// lookup returns the shell of the request's session cookie, if it is still
// live.
func (s *sessions) lookup(r *http.Request) (*shell.Shell, bool) {
	c, err := r.Cookie(sessionCookieName)
	if err != nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Get(c.Value)
}

// forRequest returns the caller's shell, starting a new session and setting
// its cookie when the request has none or it has been evicted.
func (s *sessions) forRequest(w http.ResponseWriter, r *http.Request) (*shell.Shell, error) {
	if sh, ok := s.lookup(r); ok {
		return sh, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sh, err := s.open()
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	id := uuid.NewString()
	s.cache.Add(id, sh)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	s.logger.Debug("session opened", "session_id", id)
	return sh, nil
}

func (s *sessions) len() int {
	return s.cache.Len()
}

// closeAll closes every session.
func (s *sessions) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Purge()
}
