// Package api exposes the proxy engine over a small REST surface:
//
//	GET    /                             – service banner
//	GET    /health                       – status and session statistics
//	POST   /proxy/request                – execute a proxied request
//	POST   /proxy/session/create         – create a registered session
//	DELETE /proxy/session/{id}           – delete a session
//	GET    /proxy/session/{id}/cookies   – read a session's cookie snapshot
//
// Every endpoint below /proxy requires the X-API-Key header to equal the
// configured key.  Errors are returned as {"error": <code>, "detail": <msg>}
// with the status mapped from the engine's error taxonomy.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/firasghr/GoTLSProxy/engine"
	"github.com/firasghr/GoTLSProxy/errs"
	"github.com/firasghr/GoTLSProxy/logger"
)

// Envelope is the JSON error shape returned on every failure.
type Envelope struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// Server routes REST calls to an engine.  Construct with New and mount
// Handler on an http.Server.
type Server struct {
	engine *engine.Engine
	apiKey string
	log    *logger.Logger
	mux    *http.ServeMux
}

// New creates a Server for the given engine.  apiKey is the value callers
// must present in X-API-Key; an empty key accepts only requests that also
// send an empty or absent header, which is intended for local development
// only.
func New(e *engine.Engine, apiKey string, log *logger.Logger) *Server {
	s := &Server{
		engine: e,
		apiKey: apiKey,
		log:    log.WithComponent("api"),
		mux:    http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the root handler for mounting on an http.Server.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("POST /proxy/request", s.auth(s.handleProxyRequest))
	s.mux.Handle("POST /proxy/session/create", s.auth(s.handleSessionCreate))
	s.mux.Handle("DELETE /proxy/session/{id}", s.auth(s.handleSessionDelete))
	s.mux.Handle("GET /proxy/session/{id}/cookies", s.auth(s.handleSessionCookies))
}

// auth enforces the X-API-Key header on everything except the health and
// banner endpoints.
func (s *Server) auth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != s.apiKey {
			w.Header().Set("WWW-Authenticate", "ApiKey")
			s.writeJSON(w, http.StatusUnauthorized, Envelope{Error: "unauthorized", Detail: "invalid API key"})
			return
		}
		next(w, r)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"message": "TLS proxy service",
		"health":  "/health",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "healthy",
		"active_sessions": s.engine.ActiveSessions(),
		"max_sessions":    s.engine.MaxSessions(),
	})
}

func (s *Server) handleProxyRequest(w http.ResponseWriter, r *http.Request) {
	var req engine.Request
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, Envelope{Error: string(errs.KindBadRequest), Detail: "invalid request JSON: " + err.Error()})
		return
	}

	start := time.Now()
	resp, err := s.engine.Execute(r.Context(), &req)
	if err != nil {
		s.writeError(w, err)
		s.log.Infof("%s %s -> %s (%s)", req.Method, req.URL, errs.KindOf(err), time.Since(start).Round(time.Millisecond))
		return
	}
	s.log.Infof("%s %s -> %d, %d redirect(s) (%s)", req.Method, req.URL, resp.StatusCode, resp.RedirectCount, time.Since(start).Round(time.Millisecond))
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessionCreate(w http.ResponseWriter, _ *http.Request) {
	id, err := s.engine.CreateSession()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"session_id": id,
		"message":    "Session created successfully",
	})
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.engine.DeleteSession(id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"session_id": id,
		"message":    "Session deleted successfully",
	})
}

func (s *Server) handleSessionCookies(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cookies, err := s.engine.SessionCookies(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if cookies == nil {
		cookies = map[string]string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": id,
		"cookies":    cookies,
	})
}

// writeError maps a classified engine error onto its HTTP status and the
// error envelope.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	s.writeJSON(w, errs.HTTPStatus(kind), Envelope{Error: string(kind), Detail: errs.DetailOf(err)})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorf("write response: %v", err)
	}
}
