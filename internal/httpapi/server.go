package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/toolhub/offlinesync/internal/fetch"
	"github.com/toolhub/offlinesync/internal/lifecycle"
	"github.com/toolhub/offlinesync/internal/strategy"
)

type ServerConfig struct {
	MaxBodyBytes int64
}

// Server is the interception surface: every request except the health and
// websocket endpoints flows through the cache router. Until the agent has
// activated, requests pass straight through to the origin.
type Server struct {
	router    *strategy.Router
	ws        http.Handler
	lifecycle *lifecycle.Manager
	fetcher   fetch.Fetcher
	cfg       ServerConfig
	log       *slog.Logger
}

type ServerOptions struct {
	Router    *strategy.Router
	WebSocket http.Handler
	Lifecycle *lifecycle.Manager
	Fetcher   fetch.Fetcher
	Config    ServerConfig
	Logger    *slog.Logger
}

func NewServer(opts ServerOptions) *Server {
	cfg := opts.Config
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		router:    opts.Router,
		ws:        opts.WebSocket,
		lifecycle: opts.Lifecycle,
		fetcher:   opts.Fetcher,
		cfg:       cfg,
		log:       log,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/healthz" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"state":   s.lifecycle.State(),
			"version": s.lifecycle.Version(),
		})
		return
	}
	if r.URL.Path == "/ws" && s.ws != nil {
		s.ws.ServeHTTP(w, r)
		return
	}

	req, ok := s.buildRequest(w, r)
	if !ok {
		return
	}

	if !s.lifecycle.Active() {
		s.passThrough(w, r, req)
		return
	}

	resp := s.router.Handle(r.Context(), req)
	writeResponse(w, resp)
}

func (s *Server) buildRequest(w http.ResponseWriter, r *http.Request) (fetch.Request, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit")
			return fetch.Request{}, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body")
		return fetch.Request{}, false
	}
	return fetch.Request{
		Method:     r.Method,
		Path:       r.URL.RequestURI(),
		Header:     r.Header.Clone(),
		Body:       body,
		Navigation: isNavigation(r),
	}, true
}

// passThrough relays a request while the agent is still installing or
// waiting, so clients never wait on an incomplete cache.
func (s *Server) passThrough(w http.ResponseWriter, r *http.Request, req fetch.Request) {
	snap, err := s.fetcher.Do(r.Context(), req)
	if err != nil {
		s.log.Warn("pass-through fetch failed", "path", req.Path, "error", err)
		writeError(w, http.StatusServiceUnavailable, "upstream_unreachable", "origin not reachable")
		return
	}
	writeResponse(w, &strategy.Response{
		Status: snap.Status,
		Header: snap.Header,
		Body:   snap.Body,
	})
}

func writeResponse(w http.ResponseWriter, resp *strategy.Response) {
	for key, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

func isNavigation(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":    code,
		"message": message,
	})
}
