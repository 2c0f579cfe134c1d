package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

const (
	mcpEndpoint     = "/mcp"
	sessionHeader   = "Mcp-Session-Id"
	maxRequestBytes = 4 << 20
)

// HTTPTransport serves MCP over a streamable-HTTP style endpoint: each POST
// carries one JSON-RPC message and the response is returned as JSON.
type HTTPTransport struct {
	server *MCPServer

	mu       sync.Mutex
	sessions map[string]time.Time
}

// NewHTTPTransport returns a transport bound to server.
func NewHTTPTransport(server *MCPServer) *HTTPTransport {
	return &HTTPTransport{
		server:   server,
		sessions: make(map[string]time.Time),
	}
}

// Handler returns the HTTP routes for the transport.
func (t *HTTPTransport) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(mcpEndpoint, t.handleMCP)
	mux.HandleFunc("/health", t.handleHealth)
	return mux
}

// Serve listens on addr until ctx is cancelled.
func (t *HTTPTransport) Serve(ctx context.Context, addr string) error {
	if err := t.server.startServing(); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	t.server.logger.Info("HTTP transport listening", "address", listener.Addr().String())

	httpServer := &http.Server{
		Handler:           t.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (t *HTTPTransport) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"state":  t.server.State().String(),
	})
}

func (t *HTTPTransport) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		t.handlePost(w, r)
	case http.MethodDelete:
		t.endSession(w, r)
	default:
		w.Header().Set("Allow", "POST, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (t *HTTPTransport) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	var probe struct {
		Method string `json:"method"`
	}
	_ = json.Unmarshal(body, &probe)

	if probe.Method != "initialize" {
		if id := r.Header.Get(sessionHeader); id != "" && !t.hasSession(id) {
			http.Error(w, "unknown session", http.StatusNotFound)
			return
		}
	}

	response := t.server.handleMessage(r.Context(), body)
	if response == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if probe.Method == "initialize" && response.Error == nil {
		w.Header().Set(sessionHeader, t.newSession())
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		t.server.logger.Error("failed to write response", "error", err)
	}
}

func (t *HTTPTransport) endSession(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(sessionHeader)
	t.mu.Lock()
	_, ok := t.sessions[id]
	delete(t.sessions, id)
	t.mu.Unlock()

	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (t *HTTPTransport) newSession() string {
	id := uuid.NewString()
	t.mu.Lock()
	t.sessions[id] = time.Now()
	t.mu.Unlock()
	return id
}

func (t *HTTPTransport) hasSession(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sessions[id]
	return ok
}
