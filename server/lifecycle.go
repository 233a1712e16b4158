package server

import (
	"context"
	"encoding/json"
	"os"

	"github.com/carn181/lspkit/logging"
	"github.com/carn181/lspkit/rpc"
	"github.com/carn181/lspkit/transport"
	"github.com/carn181/lspkit/util"
)

// Initialize Handler
func (s *Server) Initialize(ctx context.Context, par json.RawMessage) (json.RawMessage, *transport.ResponseError) {
	var params transport.InitializeParams
	if err := json.Unmarshal(par, &params); err != nil {
		return nil, rpc.NewError(transport.InvalidParams, "initialize: %s", err)
	}
	logging.Logger.Info("Handling Initialize", "rootUri", string(params.RootURI))

	// First client-preferred encoding we support; UTF-16 is the
	// interoperable default.
	encoding := transport.UTF16
	for _, e := range params.Capabilities.General.PositionEncodings {
		if e == transport.UTF8 || e == transport.UTF16 || e == transport.UTF32 {
			encoding = e
			break
		}
	}
	s.encoding = encoding

	syncKind := transport.Incremental
	if s.Config.Sync == "full" {
		syncKind = transport.Full
	}
	result := transport.InitializeResult{
		Capabilities: transport.ServerCapabilities{
			PositionEncoding: &encoding,
			TextDocumentSync: syncKind,
			Workspace: &transport.WorkspaceOptions{
				WorkspaceFolders: &transport.WorkspaceFoldersServerCapabilities{
					Supported: true,
				},
			},
		},
		ServerInfo: &transport.ServerInfo{Name: "lspkit", Version: "0.1.0"},
	}
	s.Capabilities = result.Capabilities

	if params.RootURI != "" {
		rootPath, err := util.URI2path(string(params.RootURI))
		if err != nil {
			return nil, rpc.NewError(transport.InvalidParams, "bad rootUri: %s", err)
		}
		logging.Logger.Info("Workspace root", "path", rootPath)
		s.Workspace.Root = rootPath
		s.Config = loadConfig(rootPath)
	}

	s.setStatus(Initializing)

	resultBytes, err := json.Marshal(result)
	if err != nil {
		return nil, rpc.NewError(transport.InternalError, "marshal initialize result: %s", err)
	}
	return resultBytes, nil
}

// Initialized Handler
func (s *Server) Initialized(ctx context.Context, par json.RawMessage) error {
	s.setStatus(Running)
	s.Files.Init(s.encoding)
	if err := s.Workspace.Init(ctx, s); err != nil {
		logging.Logger.Error("Workspace init failed", "error", err)
	}
	logging.Logger.Info("Session running", "encoding", string(s.encoding))
	return nil
}

// Shutdown Handler
func (s *Server) ShutdownEnd(ctx context.Context, par json.RawMessage) (json.RawMessage, *transport.ResponseError) {
	s.setStatus(Shutdown)

	// Some clients end the server right after sending shutdown, like emacs
	// lsp-mode. Remove the mirror dir just in case.
	if dir := s.Workspace.MirrorDir(); dir != "" {
		os.RemoveAll(dir)
	}

	return json.RawMessage("null"), nil
}

// Exit Handler
func (s *Server) ExitEnd(ctx context.Context, par json.RawMessage) error {
	if s.Status() == Shutdown {
		s.setStatus(Exit)
	} else {
		s.setStatus(ExitError)
	}
	close(s.exited)
	return nil
}
