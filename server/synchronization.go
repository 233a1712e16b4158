package server

import (
	"context"
	"encoding/json"

	"github.com/carn181/lspkit/logging"
	"github.com/carn181/lspkit/transport"
	"github.com/carn181/lspkit/util"
)

type TDChangeType int

const (
	TDOpen = iota
	TDChange
	TDClose
)

type TDEvent struct {
	Type TDChangeType
	Path util.Path
}

func (s *Server) TextDocumentOpen(ctx context.Context, par json.RawMessage) error {
	var params transport.DidOpenTextDocumentParams
	if err := json.Unmarshal(par, &params); err != nil {
		return err
	}
	td := params.TextDocument

	err := s.Files.Open(td.URI, td.LanguageID, td.Version, td.Text)
	if err != nil {
		return err
	}
	logging.Logger.Info("Opening File", "uri", td.URI, "version", td.Version)

	path, _ := util.URI2path(td.URI)
	s.Workspace.notifyEvent(TDEvent{Type: TDOpen, Path: path})
	return nil
}

func (s *Server) TextDocumentChange(ctx context.Context, par json.RawMessage) error {
	var params transport.DidChangeTextDocumentParams
	if err := json.Unmarshal(par, &params); err != nil {
		return err
	}

	path, err := util.URI2path(params.TextDocument.URI)
	if err != nil {
		return err
	}

	// A batch of pure full-text replacements only needs the last one and
	// tolerates version gaps; anything ranged goes through the strict
	// one-greater incremental path.
	if full := fullReplacementOnly(params.ContentChanges); full != nil {
		err = s.Files.ModifyFull(path, params.TextDocument.Version, full.Text)
	} else {
		err = s.Files.ModifyIncremental(path, params.TextDocument.Version, params.ContentChanges)
	}
	if err != nil {
		return err
	}

	logging.Logger.Info("Modified File", "uri", params.TextDocument.URI, "version", params.TextDocument.Version)
	s.Workspace.notifyEvent(TDEvent{Type: TDChange, Path: path})
	return nil
}

func (s *Server) TextDocumentClose(ctx context.Context, par json.RawMessage) error {
	var params transport.DidCloseTextDocumentParams
	if err := json.Unmarshal(par, &params); err != nil {
		return err
	}

	path, err := util.URI2path(params.TextDocument.URI)
	if err != nil {
		return err
	}
	if err := s.Files.Close(path); err != nil {
		return err
	}

	logging.Logger.Info("Closed File", "uri", params.TextDocument.URI)
	s.Workspace.notifyEvent(TDEvent{Type: TDClose, Path: path})
	return nil
}

// fullReplacementOnly returns the last change when every change in the batch
// is a whole-document replacement, else nil.
func fullReplacementOnly(changes []transport.TextDocumentContentChangeEvent) *transport.TextDocumentContentChangeEvent {
	if len(changes) == 0 {
		return nil
	}
	for i := range changes {
		if changes[i].Range != nil {
			return nil
		}
	}
	return &changes[len(changes)-1]
}
