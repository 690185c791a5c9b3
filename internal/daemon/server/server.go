// Package server provides the status API of the foresight daemon.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sage3/foresight/internal/daemon/engine"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// RunningConfig is the configuration the daemon is actually using, served
// on /api/config. Secrets are never included.
type RunningConfig struct {
	ServerURL       string        `json:"server_url"`
	SocketURL       string        `json:"socket_url"`
	KernelURL       string        `json:"kernel_url"`
	RedisAddr       string        `json:"redis_addr"`
	ResultsChannel  string        `json:"results_channel"`
	KernelTimeout   time.Duration `json:"kernel_timeout"`
	PollInterval    time.Duration `json:"poll_interval"`
	HealthInterval  time.Duration `json:"health_interval"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	DedupPolicy     string        `json:"dedup_policy"`
	Rooms           []string      `json:"rooms,omitempty"`
	ConfigFile      string        `json:"config_file,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
}

// Server manages the daemon's HTTP server over a Unix socket.
type Server struct {
	logger        *logrus.Entry
	mu            sync.Mutex
	server        *http.Server
	engine        *engine.Engine
	runningConfig *RunningConfig
}

// New creates a new Server instance.
func New(logger *logrus.Entry) *Server {
	return &Server{
		logger: logger,
	}
}

// SetEngine sets the engine whose state is served.
func (s *Server) SetEngine(eng *engine.Engine) {
	s.engine = eng
}

// SetRunningConfig sets the running configuration for the server.
func (s *Server) SetRunningConfig(cfg *RunningConfig) {
	s.runningConfig = cfg
}

// Handler returns the routes of the status API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/apps", s.handleApps)
	mux.HandleFunc("/api/boards", s.handleBoards)
	mux.HandleFunc("/api/pending", s.handlePending)
	mux.HandleFunc("/api/stream", s.handleStream)
	mux.HandleFunc("/api/config", s.handleGetConfig)

	return h2c.NewHandler(mux, &http2.Server{})
}

// ListenAndServe starts the daemon on the given unix socket path.
// It blocks until the server stops or fails.
func (s *Server) ListenAndServe(socketPath string) error {
	// Cleanup stale socket
	if _, err := os.Stat(socketPath); err == nil {
		if err := os.Remove(socketPath); err != nil {
			return fmt.Errorf("failed to remove stale socket: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(socketPath), 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}

	// Set restrictive permissions on socket
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	srv := &http.Server{
		Handler: s.Handler(),
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	s.logger.WithField("socket", socketPath).Info("Status API listening")
	if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Debug("Shutting down status API")
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) ready(w http.ResponseWriter) bool {
	if s.engine == nil {
		http.Error(w, "engine not initialized", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// handleStatus returns the engine's self report.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}
	writeJSON(w, s.engine.Status())
}

// handleApps lists live SmartBits. ?state=true includes their state.
func (s *Server) handleApps(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}
	withState := r.URL.Query().Get("state") == "true"
	writeJSON(w, s.engine.Registry().Snapshot(withState))
}

// handleBoards lists boards, optionally narrowed by ?room=.
func (s *Server) handleBoards(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}
	writeJSON(w, s.engine.Registry().Boards(r.URL.Query().Get("room")))
}

// handlePending lists outstanding executions.
func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}
	writeJSON(w, s.engine.Proxy().Pending())
}

// handleStream provides Server-Sent Events (SSE) of registry changes.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}

	// Ensure the connection supports flushing
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	reg := s.engine.Registry()
	ch := reg.Subscribe()
	defer reg.Unsubscribe(ch)

	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	s.logger.Debug("SSE client connected")

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("SSE client disconnected")
			return
		case change, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(change)
			if err != nil {
				s.logger.WithError(err).Error("Failed to marshal change")
				continue
			}
			// SSE format: "data: {json}\n\n"
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// handleGetConfig returns the running configuration as JSON.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.runningConfig == nil {
		http.Error(w, "config not initialized", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, s.runningConfig)
}
