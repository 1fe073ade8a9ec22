package control

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"

	"github.com/verdant-os/verdantd/pkg/errors"
	"github.com/verdant-os/verdantd/pkg/logging"
	"github.com/verdant-os/verdantd/pkg/orchestrator"
)

// Server exposes the daemon control API over a unix domain socket.
//
// The API is plain HTTP+JSON so it can be driven by vctl or by curl
// with --unix-socket during debugging.
type Server struct {
	socketPath string
	orch       *orchestrator.Orchestrator
	logger     logging.Logger

	// ShutdownRequested is invoked once when a client posts /v1/shutdown.
	// The server acknowledges the request before calling it.
	ShutdownRequested func()

	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates a control server bound to the given orchestrator.
// Call Serve to start listening.
func NewServer(socketPath string, orch *orchestrator.Orchestrator, logger logging.Logger) *Server {
	s := &Server{
		socketPath: socketPath,
		orch:       orch,
		logger:     logger,
	}

	router := mux.NewRouter()
	router.HandleFunc("/v1/status", s.handleStatusAll).Methods("GET")
	router.HandleFunc("/v1/status/{name}", s.handleStatusOne).Methods("GET")
	router.HandleFunc("/v1/units", s.handleListUnits).Methods("GET")
	router.HandleFunc("/v1/units/{name}/start", s.handleStartUnit).Methods("POST")
	router.HandleFunc("/v1/units/{name}/stop", s.handleStopUnit).Methods("POST")
	router.HandleFunc("/v1/shutdown", s.handleShutdown).Methods("POST")

	s.httpServer = &http.Server{
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Serve listens on the unix socket and blocks until Close is called.
// A stale socket file from a previous run is removed first.
func (s *Server) Serve() error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o755); err != nil {
		return errors.NewIOError("failed to create control socket directory", err)
	}
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return errors.NewIOError("failed to remove stale control socket", err).WithContext("path", s.socketPath)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return errors.NewIOError("failed to listen on control socket", err).WithContext("path", s.socketPath)
	}
	if err := os.Chmod(s.socketPath, 0o660); err != nil {
		_ = listener.Close()
		return errors.NewIOError("failed to set control socket permissions", err)
	}
	s.listener = listener

	s.logger.Infof("Control API listening on %s", s.socketPath)
	if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		return errors.NewIOError("control server failed", err)
	}
	return nil
}

// Close shuts the control server down and removes the socket file
func (s *Server) Close(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if removeErr := os.Remove(s.socketPath); removeErr != nil && !os.IsNotExist(removeErr) {
		s.logger.Warnf("Failed to remove control socket: %v", removeErr)
	}
	return err
}

func (s *Server) handleStatusAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, enrichAll(s.orch.List("")))
}

func (s *Server) handleStatusOne(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	status, err := s.orch.Status(name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, enrich(status))
}

func (s *Server) handleListUnits(w http.ResponseWriter, r *http.Request) {
	tag := r.URL.Query().Get("tag")
	writeJSON(w, http.StatusOK, enrichAll(s.orch.List(tag)))
}

func (s *Server) handleStartUnit(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.orch.Start(r.Context(), name); err != nil {
		s.writeError(w, err)
		return
	}
	status, err := s.orch.Status(name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, enrich(status))
}

func (s *Server) handleStopUnit(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.orch.Stop(r.Context(), name); err != nil {
		s.writeError(w, err)
		return
	}
	status, err := s.orch.Status(name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, enrich(status))
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	s.logger.Infof("Shutdown requested via control API")
	writeJSON(w, http.StatusOK, ShutdownResponse{Stopping: true})
	if s.ShutdownRequested != nil {
		// Deferred so the response flushes before the listener dies.
		go s.ShutdownRequested()
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.IsNotFoundError(err):
		status = http.StatusNotFound
	case errors.IsConflictError(err):
		status = http.StatusConflict
	case errors.IsValidationError(err):
		status = http.StatusBadRequest
	case errors.IsTimeoutError(err):
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
