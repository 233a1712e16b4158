package server

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/carn181/lspkit/logging"
	"github.com/carn181/lspkit/rpc"
	"github.com/carn181/lspkit/transport"
)

type ServerState int

const (
	Created ServerState = iota
	Initializing
	Running
	Shutdown
	Exit
	// ExitError is reached when exit arrives before shutdown. Treated as a
	// protocol violation that still terminates the connection.
	ExitError
)

func (s ServerState) String() string {
	switch s {
	case Created:
		return "created"
	case Initializing:
		return "initializing"
	case Running:
		return "running"
	case Shutdown:
		return "shutdown"
	case Exit:
		return "exit"
	case ExitError:
		return "exit-error"
	}
	return "unknown"
}

// Main Server Struct
type Server struct {
	mu     sync.Mutex
	status ServerState

	Transport transport.Transport
	Conn      *rpc.Conn

	Capabilities transport.ServerCapabilities
	encoding     transport.PositionEncodingKind

	Files     Files
	Workspace Workspace
	Config    Config

	diagChan chan transport.PublishDiagnosticsParams
	exited   chan struct{}
}

// Init sets the server up on stdio or a tcp socket and registers the method
// handlers. addr is only used for the socket method.
func (s *Server) Init(method transport.TransportMethod, addr string) error {
	if err := s.Transport.Init(transport.Server, method, addr); err != nil {
		return err
	}
	s.setup()
	return nil
}

// InitIO sets the server up on a caller-supplied stream pair. Lets multiple
// servers coexist in one process and keeps tests off the real stdio.
func (s *Server) InitIO(r io.Reader, w io.Writer) {
	s.Transport.InitIO(r, w)
	s.setup()
}

func (s *Server) setup() {
	s.status = Created
	s.encoding = transport.UTF16
	s.Config = defaultConfig()
	s.diagChan = make(chan transport.PublishDiagnosticsParams, 8)
	s.exited = make(chan struct{})
	s.Conn = rpc.NewConn(&s.Transport, rpc.WithHandlerLimit(s.Config.HandlerLimit))
	s.registerHandlers()
}

// Status returns the current lifecycle state.
func (s *Server) Status() ServerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Server) setStatus(st ServerState) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// Run drives the connection until exit or transport failure. The reader,
// diagnostics publisher and workspace watcher run as one group; when any of
// them ends, everything is torn down together.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := s.Conn.Run(ctx)
		cancel()
		return err
	})
	g.Go(func() error {
		s.PublishDiagnostics(ctx)
		return nil
	})
	g.Go(func() error {
		select {
		case <-s.exited:
			// exit reached; unblock the reader by closing the transport
			s.Conn.Close()
		case <-ctx.Done():
		}
		return nil
	})

	err := g.Wait()
	s.Workspace.Stop()
	if st := s.Status(); st == Exit {
		logging.Logger.Info("Server exited cleanly")
		return nil
	} else if st == ExitError {
		logging.Logger.Error("Exit received before shutdown request")
		return nil
	}
	return err
}

// registerHandlers wires the lifecycle and synchronization method table. Each
// handler goes through the state gate first, so out-of-order methods are
// rejected without touching session state.
func (s *Server) registerHandlers() {
	s.request("initialize", s.Initialize)
	s.request("shutdown", s.ShutdownEnd)
	s.notification("initialized", s.Initialized)
	s.notification("exit", s.ExitEnd)
	s.notification("textDocument/didOpen", s.TextDocumentOpen)
	s.notification("textDocument/didChange", s.TextDocumentChange)
	s.notification("textDocument/didClose", s.TextDocumentClose)

	// Unknown requests still answer for the lifecycle state first: before
	// initialize the peer gets "not initialized", not "method not found".
	s.Conn.RegisterFallback(func(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, *transport.ResponseError) {
		if rerr := s.gate(method); rerr != nil {
			return nil, rerr
		}
		return nil, rpc.NewError(transport.MethodNotFound, "method not found: %s", method)
	})
}

type requestHandler func(ctx context.Context, params json.RawMessage) (json.RawMessage, *transport.ResponseError)
type notificationHandler func(ctx context.Context, params json.RawMessage) error

func (s *Server) request(method string, h requestHandler) {
	s.Conn.RegisterHandler(method, rpc.HandlerFunc(
		func(ctx context.Context, params json.RawMessage) (json.RawMessage, *transport.ResponseError) {
			if rerr := s.gate(method); rerr != nil {
				return nil, rerr
			}
			return h(ctx, params)
		}))
}

func (s *Server) notification(method string, h notificationHandler) {
	s.Conn.RegisterHandler(method, rpc.HandlerFunc(
		func(ctx context.Context, params json.RawMessage) (json.RawMessage, *transport.ResponseError) {
			if rerr := s.gate(method); rerr != nil {
				// Notifications have no reply channel; the gate result is
				// only logged, except exit which always terminates.
				logging.Logger.Warn("Dropping notification in wrong state",
					"method", method, "state", s.Status().String(), "error", rerr.Message)
				return nil, nil
			}
			if err := h(ctx, params); err != nil {
				return nil, rpc.NewError(transport.InvalidParams, "%s: %s", method, err)
			}
			return nil, nil
		}))
}

// gate validates a method against the lifecycle state machine.
func (s *Server) gate(method string) *transport.ResponseError {
	if method == "exit" {
		// exit is accepted in every state; ExitEnd decides whether it was
		// a clean termination.
		return nil
	}

	switch s.Status() {
	case Created:
		if method != "initialize" {
			return rpc.NewError(transport.ServerNotInitialized, "server not initialized, got %s", method)
		}
	case Initializing:
		if method != "initialized" {
			return rpc.NewError(transport.ServerNotInitialized, "server still initializing, got %s", method)
		}
	case Running:
		if method == "initialize" {
			return rpc.NewError(transport.InvalidRequest, "initialize sent twice")
		}
	case Shutdown, Exit, ExitError:
		return rpc.NewError(transport.InvalidRequest, "server shutting down, got %s", method)
	}
	return nil
}
