// Package web provides an HTTP status server for the opamp-chip daemon.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sweeney/opamp-chip/internal/status"
)

// DefaultLiveInterval is how often /live pushes a snapshot.
const DefaultLiveInterval = 250 * time.Millisecond

// ParamStore is the parameter surface exposed on /params.
type ParamStore interface {
	Snapshot() map[string]float64
	Set(name string, v float64) error
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	params     ParamStore

	// LiveInterval overrides DefaultLiveInterval; set before serving.
	LiveInterval time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

// New creates a Server that reads state from the given tracker. params may be
// nil, in which case /params is not served.
func New(addr string, tracker *status.Tracker, params ParamStore) *Server {
	s := &Server{
		tracker:      tracker,
		params:       params,
		LiveInterval: DefaultLiveInterval,
		done:         make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/plot.png", s.handlePlot)
	mux.HandleFunc("/live", s.handleLive)
	if params != nil {
		mux.HandleFunc("/params", s.handleParams)
	}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler returns the server's request router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server and ends live feeds.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.done) })
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	var values map[string]float64
	if s.params != nil {
		values = s.params.Snapshot()
	}
	if err := renderHTML(w, snap, values); err != nil {
		log.Printf("http: render index: %v", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handlePlot(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	if len(snap.History) == 0 {
		http.Error(w, "no samples yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := renderPlot(w, snap.History); err != nil {
		log.Printf("http: render plot: %v", err)
	}
}

func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.applyForm(r.PostForm); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, _ := json.MarshalIndent(s.params.Snapshot(), "", "  ")
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// applyForm checks every name and value before setting any, so a rejected
// form leaves the store untouched.
func (s *Server) applyForm(form map[string][]string) error {
	known := s.params.Snapshot()
	names := make([]string, 0, len(form))
	for name := range form {
		names = append(names, name)
	}
	sort.Strings(names)

	values := make(map[string]float64, len(names))
	for _, name := range names {
		raw := strings.TrimSpace(form[name][len(form[name])-1])
		if raw == "" {
			continue
		}
		if _, ok := known[name]; !ok {
			return fmt.Errorf("unknown parameter %q", name)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s: bad value %q", name, raw)
		}
		values[name] = v
	}
	for _, name := range names {
		v, ok := values[name]
		if !ok {
			continue
		}
		if err := s.params.Set(name, v); err != nil {
			return err
		}
	}
	return nil
}
