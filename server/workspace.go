package server

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	cp "github.com/otiai10/copy"

	"github.com/carn181/lspkit/diff"
	"github.com/carn181/lspkit/logging"
	"github.com/carn181/lspkit/transport"
	"github.com/carn181/lspkit/util"
)

// Workspace mirrors the workspace root into a temp directory and watches the
// root for external edits. A disk change to an open document is translated
// into an incremental didChange notification by diffing the stored text
// against the on-disk text, so the peer never receives a full retransmit.
//
// Init runs on a handler goroutine while Stop can arrive from the lifecycle
// or the run loop, so the mutable fields are published under mu.
type Workspace struct {
	Root util.Path

	mu       sync.Mutex
	tempDir  util.Path
	tdEvents chan TDEvent
	watcher  *fsnotify.Watcher
	stopped  bool
}

// Init replicates the root into a temp dir and starts the watcher and the
// mirror pump. A server without a workspace root runs with all of this off.
func (w *Workspace) Init(ctx context.Context, s *Server) error {
	if w.Root == "" {
		return nil
	}

	var tempDir util.Path
	if s.Config.Mirror {
		dir, err := os.MkdirTemp("", "lspkit-mirror-")
		if err != nil {
			return err
		}
		if err := cp.Copy(w.Root, dir); err != nil {
			os.RemoveAll(dir)
			return err
		}
		tempDir = dir
		logging.Logger.Info("Workspace mirrored", "root", w.Root, "mirror", dir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		if tempDir != "" {
			os.RemoveAll(tempDir)
		}
		return err
	}
	// fsnotify watches are not recursive.
	err = filepath.WalkDir(w.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		logging.Logger.Error("Workspace watch setup incomplete", "error", err)
	}

	events := make(chan TDEvent, 16)

	w.mu.Lock()
	if w.stopped {
		// Shutdown won the race; leave nothing behind.
		w.mu.Unlock()
		watcher.Close()
		if tempDir != "" {
			os.RemoveAll(tempDir)
		}
		return nil
	}
	w.tempDir = tempDir
	w.tdEvents = events
	w.watcher = watcher
	w.mu.Unlock()

	go w.watch(ctx, s, watcher)
	go w.pump(ctx, s, events, tempDir)
	return nil
}

// MirrorDir returns the temp-dir replica path, empty when mirroring is off or
// the workspace was never initialized.
func (w *Workspace) MirrorDir() util.Path {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tempDir
}

// Stop closes the watcher and removes the mirror.
func (w *Workspace) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	if w.watcher != nil {
		w.watcher.Close()
	}
	if w.tempDir != "" {
		os.RemoveAll(w.tempDir)
	}
}

// notifyEvent hands a document event to the mirror pump. A workspace that
// was never initialized drops events instead of blocking handlers.
func (w *Workspace) notifyEvent(ev TDEvent) {
	w.mu.Lock()
	ch := w.tdEvents
	w.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- ev:
	default:
		logging.Logger.Warn("Mirror pump behind, dropping event", "path", ev.Path)
	}
}

// watch reacts to external edits of files that are open in the store.
func (w *Workspace) watch(ctx context.Context, s *Server, watcher *fsnotify.Watcher) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if _, _, open := s.Files.Get(event.Name); open {
					w.syncFromDisk(s, event.Name)
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Logger.Error("Watcher error", "error", err)
		case <-ctx.Done():
			return
		}
	}
}

// pump keeps the temp-dir mirror in step with the document store.
func (w *Workspace) pump(ctx context.Context, s *Server, events <-chan TDEvent, tempDir util.Path) {
	if tempDir == "" {
		return
	}
	for {
		select {
		case ev := <-events:
			switch ev.Type {
			case TDOpen, TDChange:
				content, _, ok := s.Files.Get(ev.Path)
				if !ok {
					continue
				}
				w.writeMirror(tempDir, ev.Path, []byte(content))
			case TDClose:
				// The closed document falls back to its on-disk state.
				content, err := os.ReadFile(ev.Path)
				if err != nil {
					continue
				}
				w.writeMirror(tempDir, ev.Path, content)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (w *Workspace) writeMirror(tempDir, path util.Path, content []byte) {
	rel, err := filepath.Rel(w.Root, path)
	if err != nil {
		logging.Logger.Warn("File outside workspace, not mirrored", "path", path)
		return
	}
	target := filepath.Join(tempDir, rel)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		logging.Logger.Error("Mirror mkdir failed", "error", err)
		return
	}
	if err := os.WriteFile(target, content, 0644); err != nil {
		logging.Logger.Error("Mirror write failed", "error", err)
	}
}

// syncFromDisk turns an external full-text update into an incremental
// didChange notification: diff the stored text against the disk text, send
// the edit script, then advance the stored mirror to the disk text.
func (w *Workspace) syncFromDisk(s *Server, path util.Path) {
	old, _, ok := s.Files.Get(path)
	if !ok {
		return
	}
	disk, err := os.ReadFile(path)
	if err != nil {
		logging.Logger.Error("Reading changed file failed", "path", path, "error", err)
		return
	}
	if string(disk) == old {
		return
	}

	ops := diff.Lines(old, string(disk))
	changes, err := changesFromEdits(old, diff.ToEdits(ops), s.encoding)
	if err != nil {
		logging.Logger.Error("Computing incremental changes failed", "path", path, "error", err)
		return
	}

	version, err := s.Files.Replace(path, string(disk))
	if err != nil {
		logging.Logger.Error("Advancing document mirror failed", "path", path, "error", err)
		return
	}

	logging.Logger.Debug("External edit", "path", path,
		"diff", diff.Unified(path, path, ops))

	params := transport.DidChangeTextDocumentParams{
		TextDocument: transport.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: transport.TextDocumentIdentifier{URI: util.Path2URI(path)},
			Version:                version,
		},
		ContentChanges: changes,
	}
	if err := s.Conn.Notify("textDocument/didChange", params); err != nil {
		logging.Logger.Error("Sending didChange failed", "path", path, "error", err)
	}

	w.notifyEvent(TDEvent{Type: TDChange, Path: path})
}

// changesFromEdits converts byte-span edits over old into ranged content
// changes that apply sequentially: each range is computed against the text
// produced by the edits before it.
func changesFromEdits(old string, edits []diff.Edit, encoding transport.PositionEncodingKind) ([]transport.TextDocumentContentChangeEvent, error) {
	changes := make([]transport.TextDocumentContentChangeEvent, 0, len(edits))
	work := old
	delta := 0
	for _, e := range edits {
		start := e.Start + delta
		end := e.End + delta

		startPos, err := OffsetToPosition(work, start, encoding)
		if err != nil {
			return nil, err
		}
		endPos, err := OffsetToPosition(work, end, encoding)
		if err != nil {
			return nil, err
		}

		rng := transport.Range{Start: startPos, End: endPos}
		changes = append(changes, transport.TextDocumentContentChangeEvent{
			Range: &rng,
			Text:  e.NewText,
		})

		work = work[:start] + e.NewText + work[end:]
		delta += len(e.NewText) - (e.End - e.Start)
	}
	return changes, nil
}
