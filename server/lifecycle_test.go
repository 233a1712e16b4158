package server_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/carn181/lspkit/rpc"
	"github.com/carn181/lspkit/server"
	"github.com/carn181/lspkit/transport"
	"github.com/carn181/lspkit/util"
)

// startSession wires a server and a client connection over in-process pipes
// and runs both sides.
func startSession(t *testing.T) (*server.Server, *rpc.Conn, chan error) {
	t.Helper()

	sr, cw := io.Pipe()
	cr, sw := io.Pipe()

	s := &server.Server{}
	s.InitIO(sr, sw)

	var ct transport.Transport
	ct.InitIO(cr, cw)
	client := rpc.NewConn(&ct)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- s.Run(ctx) }()
	go client.Run(ctx)

	t.Cleanup(func() {
		cancel()
		client.Close()
		s.Conn.Close()
	})
	return s, client, runDone
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func initializeParams(encodings ...transport.PositionEncodingKind) transport.InitializeParams {
	return transport.InitializeParams{
		Capabilities: transport.ClientCapabilities{
			General: transport.GeneralClientCapabilities{PositionEncodings: encodings},
		},
	}
}

func TestSessionLifecycle(t *testing.T) {
	s, client, runDone := startSession(t)
	ctx := context.Background()

	var result transport.InitializeResult
	if err := client.Call(ctx, "initialize", initializeParams(transport.UTF8), &result); err != nil {
		t.Fatal(err)
	}
	if result.Capabilities.PositionEncoding == nil || *result.Capabilities.PositionEncoding != transport.UTF8 {
		t.Errorf("negotiated encoding = %v", result.Capabilities.PositionEncoding)
	}
	if result.Capabilities.TextDocumentSync != transport.Incremental {
		t.Errorf("sync kind = %v", result.Capabilities.TextDocumentSync)
	}
	if s.Status() != server.Initializing {
		t.Errorf("status = %v after initialize", s.Status())
	}

	if err := client.Notify("initialized", struct{}{}); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool { return s.Status() == server.Running }, "server never reached running")

	uri := util.Path2URI("/tmp/session-doc.txt")
	err := client.Notify("textDocument/didOpen", transport.DidOpenTextDocumentParams{
		TextDocument: transport.TextDocumentItem{
			URI: uri, LanguageID: "plaintext", Version: 1, Text: "hello\nworld\n",
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool {
		_, _, ok := s.Files.GetFromURI(uri)
		return ok
	}, "document never opened")

	rng := transport.Range{
		Start: transport.Position{Line: 0, Character: 0},
		End:   transport.Position{Line: 0, Character: 5},
	}
	err = client.Notify("textDocument/didChange", transport.DidChangeTextDocumentParams{
		TextDocument: transport.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: transport.TextDocumentIdentifier{URI: uri},
			Version:                2,
		},
		ContentChanges: []transport.TextDocumentContentChangeEvent{{Range: &rng, Text: "goodbye"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool {
		content, version, _ := s.Files.GetFromURI(uri)
		return content == "goodbye\nworld\n" && version == 2
	}, "incremental change never applied")

	err = client.Notify("textDocument/didClose", transport.DidCloseTextDocumentParams{
		TextDocument: transport.TextDocumentIdentifier{URI: uri},
	})
	if err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool {
		_, _, ok := s.Files.GetFromURI(uri)
		return !ok
	}, "document never closed")

	if err := client.Call(ctx, "shutdown", nil, nil); err != nil {
		t.Fatal(err)
	}
	if s.Status() != server.Shutdown {
		t.Errorf("status = %v after shutdown", s.Status())
	}

	if err := client.Notify("exit", nil); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-runDone:
		if err != nil {
			t.Errorf("run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server never exited")
	}
	if s.Status() != server.Exit {
		t.Errorf("status = %v after exit", s.Status())
	}
}

func TestRequestBeforeInitialize(t *testing.T) {
	_, client, _ := startSession(t)

	err := client.Call(context.Background(), "shutdown", nil, nil)
	rerr, ok := rpc.CallError(err)
	if !ok || rerr.Code != transport.ServerNotInitialized {
		t.Errorf("got %v, want ServerNotInitialized", err)
	}
}

func TestDoubleInitialize(t *testing.T) {
	s, client, _ := startSession(t)
	ctx := context.Background()

	if err := client.Call(ctx, "initialize", initializeParams(), nil); err != nil {
		t.Fatal(err)
	}
	client.Notify("initialized", struct{}{})
	eventually(t, func() bool { return s.Status() == server.Running }, "server never reached running")

	err := client.Call(ctx, "initialize", initializeParams(), nil)
	rerr, ok := rpc.CallError(err)
	if !ok || rerr.Code != transport.InvalidRequest {
		t.Errorf("got %v, want InvalidRequest", err)
	}
}

func TestRequestAfterShutdown(t *testing.T) {
	s, client, _ := startSession(t)
	ctx := context.Background()

	if err := client.Call(ctx, "initialize", initializeParams(), nil); err != nil {
		t.Fatal(err)
	}
	client.Notify("initialized", struct{}{})
	eventually(t, func() bool { return s.Status() == server.Running }, "server never reached running")

	if err := client.Call(ctx, "shutdown", nil, nil); err != nil {
		t.Fatal(err)
	}
	err := client.Call(ctx, "shutdown", nil, nil)
	rerr, ok := rpc.CallError(err)
	if !ok || rerr.Code != transport.InvalidRequest {
		t.Errorf("got %v, want InvalidRequest", err)
	}
}

func TestExitBeforeShutdown(t *testing.T) {
	s, client, runDone := startSession(t)
	ctx := context.Background()

	if err := client.Call(ctx, "initialize", initializeParams(), nil); err != nil {
		t.Fatal(err)
	}
	client.Notify("initialized", struct{}{})
	eventually(t, func() bool { return s.Status() == server.Running }, "server never reached running")

	if err := client.Notify("exit", nil); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-runDone:
		if err != nil {
			t.Errorf("run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server never exited")
	}
	if s.Status() != server.ExitError {
		t.Errorf("status = %v, want exit-error", s.Status())
	}
}

func TestUnknownMethodGating(t *testing.T) {
	s, client, _ := startSession(t)
	ctx := context.Background()

	// Before initialize the state error wins over method lookup.
	err := client.Call(ctx, "textDocument/hover", nil, nil)
	rerr, ok := rpc.CallError(err)
	if !ok || rerr.Code != transport.ServerNotInitialized {
		t.Errorf("got %v, want ServerNotInitialized", err)
	}
	if s.Status() != server.Created {
		t.Errorf("status changed to %v", s.Status())
	}

	if err := client.Call(ctx, "initialize", initializeParams(), nil); err != nil {
		t.Fatal(err)
	}
	client.Notify("initialized", struct{}{})
	eventually(t, func() bool { return s.Status() == server.Running }, "server never reached running")

	err = client.Call(ctx, "textDocument/hover", nil, nil)
	rerr, ok = rpc.CallError(err)
	if !ok || rerr.Code != transport.MethodNotFound {
		t.Errorf("got %v, want MethodNotFound", err)
	}
}

func TestUTF16DefaultWhenUnsupportedPreferred(t *testing.T) {
	_, client, _ := startSession(t)

	var result transport.InitializeResult
	err := client.Call(context.Background(), "initialize",
		initializeParams(transport.PositionEncodingKind("utf-7")), &result)
	if err != nil {
		t.Fatal(err)
	}
	if result.Capabilities.PositionEncoding == nil || *result.Capabilities.PositionEncoding != transport.UTF16 {
		t.Errorf("negotiated encoding = %v, want utf-16", result.Capabilities.PositionEncoding)
	}
}
