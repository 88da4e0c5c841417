package web

import (
	"context"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/vbonduro/invtrack/internal/domain"
	"github.com/vbonduro/invtrack/internal/identity"
	"github.com/vbonduro/invtrack/internal/shell"
	"github.com/vbonduro/invtrack/internal/viewsync"
)

type Server struct {
	sessions *sessions
	tmpl     *template.Template
	mux      *http.ServeMux
	auth     identity.Provider
	logger   *slog.Logger
}

// NewServer builds the HTTP surface. Each browser session gets its own shell
// subscribed through source; at most sessionCapacity sessions are kept.
func NewServer(source viewsync.Source, ops shell.Mutations, auth identity.Provider, tmplFS fs.FS, sessionCapacity int, logger *slog.Logger) (*Server, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"comma": func(n int) string { return humanize.Comma(int64(n)) },
		"ago":   ago,
	}).ParseFS(tmplFS, "*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	sess, err := newSessions(sessionCapacity, func() (*shell.Shell, error) {
		return shell.Open(source, ops, auth, logger)
	}, logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		sessions: sess,
		tmpl:     tmpl,
		mux:      http.NewServeMux(),
		auth:     auth,
		logger:   logger,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /events", s.handleEvents)
	s.mux.HandleFunc("GET /export.csv", s.handleExport)

	s.mux.HandleFunc("POST /search", s.handleSearch)
	s.mux.HandleFunc("POST /sort", s.handleSort)
	s.mux.HandleFunc("POST /filter", s.handleFilter)

	s.mux.HandleFunc("POST /items", s.handleSubmitEditor)
	s.mux.HandleFunc("POST /items/{id}/increment", s.handleIncrement)
	s.mux.HandleFunc("POST /items/{id}/decrement", s.handleDecrement)
	s.mux.HandleFunc("POST /items/{id}/edit", s.handleEditItem)
	s.mux.HandleFunc("POST /editor/open", s.handleOpenEditor)
	s.mux.HandleFunc("POST /editor/close", s.handleCloseEditor)
	s.mux.HandleFunc("POST /drawer/toggle", s.handleToggleDrawer)
	s.mux.HandleFunc("POST /theme/toggle", s.handleToggleTheme)

	s.mux.HandleFunc("GET /login", s.handleLogin)
	s.mux.HandleFunc("GET /login/dev", s.handleDevLoginForm)
	s.mux.HandleFunc("GET /auth/callback", s.handleAuthCallback)
	s.mux.HandleFunc("POST /logout", s.handleLogout)
}

// securityHeaders sets browser hardening headers on every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		// Datastar evaluates data-* expressions with Function().
		h.Set("Content-Security-Policy",
			"default-src 'self'; "+
				"script-src 'self' 'unsafe-inline' 'unsafe-eval' https://cdn.jsdelivr.net; "+
				"style-src 'self' 'unsafe-inline'; "+
				"img-src 'self' data:; "+
				"connect-src 'self'")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder wraps http.ResponseWriter to capture the written status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush lets SSE handlers stream through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func requestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestLogger(s.logger, securityHeaders(s.mux)).ServeHTTP(w, r)
}

// HTTPServer returns an *http.Server for addr. WriteTimeout is left unset so
// event streams stay open.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := s.HTTPServer(addr)
	srv.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

// Close ends every session.
func (s *Server) Close() {
	s.sessions.closeAll()
}

// render executes the named template into w as HTML.
func (s *Server) render(w http.ResponseWriter, name string, data any) {
	html, err := s.renderString(name, data)
	if err != nil {
		http.Error(w, "template error", http.StatusInternalServerError)
		s.logger.Error("render failed", "template", name, "error", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := io.WriteString(w, html); err != nil {
		s.logger.Error("write response failed", "template", name, "error", err)
	}
}

func (s *Server) renderString(name string, data any) (string, error) {
	var b strings.Builder
	if err := s.tmpl.ExecuteTemplate(&b, name, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

// pageVM is what every template renders from.
type pageVM struct {
	View       shell.View
	Chart      chartVM
	Categories []domain.Category
	SortKeys   []domain.SortKey
	Provider   string
}

func (s *Server) pageFor(sh *shell.Shell) pageVM {
	v := sh.View()
	return pageVM{
		View:       v,
		Chart:      buildChart(v.Chart),
		Categories: domain.Categories,
		SortKeys:   domain.SortKeys,
		Provider:   s.auth.Name(),
	}
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "just now"
	}
	return humanize.Time(t)
}
