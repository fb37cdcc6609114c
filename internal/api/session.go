package api

import (
	"net/http"
	"strconv"

	"github.com/passdeck/passdeck/internal/notify"
)

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	if s.session == nil {
		writeError(w, http.StatusNotFound, "sessions are not enabled")
		return
	}
	writeJSON(w, http.StatusOK, s.session.State())
}

func (s *Server) checkSession(w http.ResponseWriter, r *http.Request) {
	if s.session == nil {
		writeError(w, http.StatusNotFound, "sessions are not enabled")
		return
	}
	force := r.URL.Query().Get("force")
	result := s.session.Check(r.Context(), force == "1" || force == "true")

	status := http.StatusOK
	if !s.session.Authenticated() {
		status = http.StatusUnauthorized
	}
	writeJSON(w, status, map[string]interface{}{
		"result":  result,
		"session": s.session.State(),
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := s.console.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user": id})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if s.session == nil {
		writeError(w, http.StatusNotFound, "sessions are not enabled")
		return
	}
	s.session.Logout(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// listNotifications returns notifications newer than ?since=<seq>.
func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"items": []notify.Notification{}, "last_seq": 0})
		return
	}
	var since uint64
	if raw := r.URL.Query().Get("since"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be a non-negative integer")
			return
		}
		since = n
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items":    s.feed.Since(since),
		"last_seq": s.feed.LastSeq(),
	})
}
