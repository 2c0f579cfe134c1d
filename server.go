package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/goccy/go-json"
)

// State is the lifecycle stage of the server.
type State int32

const (
	StateUninitialized State = iota
	StateConnected
	StateServing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnected:
		return "connected"
	case StateServing:
		return "serving"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MCPServer exposes the database schema and query surface over MCP.
type MCPServer struct {
	conns        *ConnectionManager
	introspector *SchemaIntrospector
	executor     *QueryExecutor
	catalog      *ResourceCatalog
	logger       *slog.Logger

	state  atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc
}

// NewMCPServer wraps an established connection. The server starts in the
// Connected state; call RegisterTableResources, then one of the Serve
// methods.
func NewMCPServer(ctx context.Context, conns *ConnectionManager, executor *QueryExecutor, logger *slog.Logger) *MCPServer {
	if executor == nil {
		executor = NewQueryExecutor(conns)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	serverCtx, serverCancel := context.WithCancel(ctx)

	s := &MCPServer{
		conns:        conns,
		introspector: NewSchemaIntrospector(conns),
		executor:     executor,
		catalog:      newResourceCatalog(nil),
		logger:       logger,
		ctx:          serverCtx,
		cancel:       serverCancel,
	}
	if conns != nil {
		s.state.Store(int32(StateConnected))
	}
	return s
}

// State returns the current lifecycle stage.
func (s *MCPServer) State() State {
	return State(s.state.Load())
}

// Catalog returns the table resources registered at startup.
func (s *MCPServer) Catalog() *ResourceCatalog {
	return s.catalog
}

// RegisterTableResources enumerates the tables once and registers one
// resource per table. If the enumeration fails the catalog stays empty and
// the failure is only logged; the tools keep working.
func (s *MCPServer) RegisterTableResources(ctx context.Context) error {
	if st := s.State(); st != StateConnected {
		return fmt.Errorf("cannot register table resources in state %s", st)
	}

	catalog, err := BuildResourceCatalog(ctx, s.introspector)
	if err != nil {
		s.logger.Warn("skipping table resource registration", "error", err)
		return nil
	}
	s.catalog = catalog
	for _, entry := range catalog.Entries() {
		s.logger.Debug("registered table resource", "uri", entry.URI())
	}
	s.logger.Info("registered table resources", "count", catalog.Len())
	return nil
}

// startServing moves Connected to Serving. Serving again is a no-op so that
// several transports may share one server.
func (s *MCPServer) startServing() error {
	if s.state.CompareAndSwap(int32(StateConnected), int32(StateServing)) {
		return nil
	}
	if st := s.State(); st != StateServing {
		return fmt.Errorf("cannot serve in state %s", st)
	}
	return nil
}

// Run serves newline-delimited JSON-RPC on stdin/stdout. It returns nil at
// end of input and the context error once the server is shut down, even
// while a read is pending.
func (s *MCPServer) Run(r io.Reader, w io.Writer) error {
	if err := s.startServing(); err != nil {
		return err
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		reader := bufio.NewReader(r)
		for {
			line, err := reader.ReadString('\n')
			if line != "" {
				select {
				case lines <- line:
				case <-s.ctx.Done():
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	for {
		var line string
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()
		case err := <-readErr:
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("failed to read input: %w", err)
		case line = <-lines:
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		response := s.handleMessage(s.ctx, []byte(line))
		if response != nil {
			responseBytes, err := json.Marshal(response)
			if err != nil {
				s.logger.Error("failed to marshal response", "error", err)
				continue
			}
			if _, err := fmt.Fprintln(w, string(responseBytes)); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}
		}
	}
}

func (s *MCPServer) handleMessage(ctx context.Context, data []byte) *JSONRPCResponse {
	var req JSONRPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      nil,
			Error: &Error{
				Code:    ParseError,
				Message: "Parse error",
				Data:    err.Error(),
			},
		}
	}

	if req.JSONRPC != "2.0" {
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &Error{
				Code:    InvalidRequest,
				Message: "Invalid JSON-RPC version",
			},
		}
	}

	return s.handleRequest(ctx, &req)
}

func (s *MCPServer) handleRequest(ctx context.Context, req *JSONRPCRequest) *JSONRPCResponse {
	var result any
	var err *Error

	switch req.Method {
	case "tools/call", "resources/list", "resources/read":
		if st := s.State(); st != StateServing {
			err = &Error{
				Code:    InternalError,
				Message: fmt.Sprintf("server is not serving (state %s)", st),
			}
			break
		}
		result, err = s.dispatchServing(ctx, req)
	case "initialize":
		result, err = s.handleInitialize(req.Params)
	case "initialized", "notifications/initialized", "notifications/cancelled":
		return nil
	case "ping":
		result = map[string]any{}
	case "tools/list":
		result, err = s.handleListTools()
	case "resources/templates/list":
		result, err = s.handleListResourceTemplates()
	default:
		err = &Error{
			Code:    MethodNotFound,
			Message: fmt.Sprintf("Method not found: %s", req.Method),
		}
	}

	if req.IsNotification() {
		return nil
	}
	if err != nil {
		result = nil
	}
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  result,
		Error:   err,
	}
}

// dispatchServing handles the methods that touch the database.
func (s *MCPServer) dispatchServing(ctx context.Context, req *JSONRPCRequest) (any, *Error) {
	switch req.Method {
	case "tools/call":
		return s.handleCallTool(ctx, req.Params)
	case "resources/list":
		return s.handleListResources()
	default:
		return s.handleReadResource(ctx, req.Params)
	}
}

// Shutdown stops the serve loops.
func (s *MCPServer) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Close stops the server and releases the connection.
func (s *MCPServer) Close() error {
	s.Shutdown()
	s.state.Store(int32(StateStopped))
	return s.conns.Close()
}
