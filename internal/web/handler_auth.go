package web

import (
	"net/http"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	sh, ok := s.session(w, r)
	if !ok {
		return
	}
	http.Redirect(w, r, sh.BeginSignIn(), http.StatusSeeOther)
}

// handleDevLoginForm asks for a display name and submits it, with the
// attempt's state, to the callback.
func (s *Server) handleDevLoginForm(w http.ResponseWriter, r *http.Request) {
	if s.auth.Name() != "dev" {
		http.NotFound(w, r)
		return
	}
	s.render(w, "login_dev", map[string]string{"State": r.URL.Query().Get("state")})
}

func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	sh, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sh.SignIn(r.Context(), r.URL.Query()); err != nil {
		s.logger.Warn("sign-in failed", "provider", s.auth.Name(), "error", err)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sh, ok := s.session(w, r)
	if !ok {
		return
	}
	sh.SignOut(mutationContext(r))
	s.respond(w, r, sh)
}
