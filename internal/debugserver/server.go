// Package debugserver exposes a local HTTP endpoint for inspecting a
// running VM: call stack, recent trace events, and registered tools.
// It serves `concerto run --inspect` and is never started otherwise.
package debugserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/concerto-lang/concerto/internal/config"
	"github.com/concerto-lang/concerto/internal/logger"
	"github.com/concerto-lang/concerto/internal/runtime"
)

// Server wraps the chi router around one VM.
type Server struct {
	cfg    *config.Config
	vm     *runtime.VM
	router chi.Router
}

// NewServer builds the inspection server for vm.
func NewServer(cfg *config.Config, vm *runtime.VM) *Server {
	s := &Server{cfg: cfg, vm: vm}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Debug.AllowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/state", s.handleState)
	r.Get("/tools", s.handleTools)

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

type stateResponse struct {
	CallStack []string             `json:"call_stack"`
	Trace     []runtime.TraceEvent `json:"trace"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	stack, trace := s.vm.Snapshot()
	writeJSON(w, stateResponse{CallStack: stack, Trace: trace})
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string][]string{"tools": s.vm.Tools.Names()})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Handler returns the router for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves in a background goroutine; inspection must never block
// the VM thread.
func (s *Server) Start() {
	addr := s.cfg.DebugAddress()
	go func() {
		logger.GetLogger().Info().Str("addr", addr).Msg("debug server listening")
		if err := http.ListenAndServe(addr, s.router); err != nil {
			logger.GetLogger().Warn().Err(err).Msg("debug server stopped")
		}
	}()
}
