package server

import (
	"context"

	"github.com/carn181/lspkit/logging"
	"github.com/carn181/lspkit/transport"
)

// PublishDiagnostics drains the diagnostics channel and forwards each batch
// to the peer. Runs until the session context ends.
func (s *Server) PublishDiagnostics(ctx context.Context) error {
	for {
		select {
		case diag := <-s.diagChan:
			logging.Logger.Debug("Publishing diagnostics", "uri", diag.URI, "count", len(diag.Diagnostics))
			if err := s.Conn.Notify("textDocument/publishDiagnostics", diag); err != nil {
				logging.Logger.Error("Publishing diagnostics failed", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// QueueDiagnostics hands a diagnostics batch to the publisher. Drops the
// batch rather than block when the publisher is not running.
func (s *Server) QueueDiagnostics(diag transport.PublishDiagnosticsParams) {
	select {
	case s.diagChan <- diag:
	default:
		logging.Logger.Warn("Diagnostics publisher behind, dropping batch", "uri", diag.URI)
	}
}
