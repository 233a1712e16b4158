package server_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/carn181/lspkit/rpc"
	"github.com/carn181/lspkit/server"
	"github.com/carn181/lspkit/transport"
	"github.com/carn181/lspkit/util"
)

// An external edit to an open document comes back as an incremental
// didChange notification and advances the stored mirror.
func TestWorkspaceExternalEdit(t *testing.T) {
	root := t.TempDir()
	docPath := filepath.Join(root, "doc.txt")
	original := "alpha\nbeta\ngamma\n"
	if err := os.WriteFile(docPath, []byte(original), 0644); err != nil {
		t.Fatal(err)
	}

	s, client, _ := startSession(t)
	ctx := context.Background()

	var mu sync.Mutex
	var notified []transport.DidChangeTextDocumentParams
	client.RegisterHandler("textDocument/didChange", rpc.HandlerFunc(
		func(ctx context.Context, params json.RawMessage) (json.RawMessage, *transport.ResponseError) {
			var p transport.DidChangeTextDocumentParams
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, rpc.NewError(transport.InvalidParams, "%s", err)
			}
			mu.Lock()
			notified = append(notified, p)
			mu.Unlock()
			return nil, nil
		}))

	params := initializeParams(transport.UTF16)
	params.RootURI = util.Path2URI(root)
	if err := client.Call(ctx, "initialize", params, nil); err != nil {
		t.Fatal(err)
	}
	client.Notify("initialized", struct{}{})
	eventually(t, func() bool { return s.Status() == server.Running }, "server never reached running")
	eventually(t, func() bool { return s.Workspace.MirrorDir() != "" }, "workspace mirror never created")

	uri := util.Path2URI(docPath)
	err := client.Notify("textDocument/didOpen", transport.DidOpenTextDocumentParams{
		TextDocument: transport.TextDocumentItem{
			URI: uri, LanguageID: "plaintext", Version: 1, Text: original,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool {
		_, _, ok := s.Files.GetFromURI(uri)
		return ok
	}, "document never opened")

	// The mirror copy follows the open document.
	mirrorPath := filepath.Join(s.Workspace.MirrorDir(), "doc.txt")
	eventually(t, func() bool {
		content, err := os.ReadFile(mirrorPath)
		return err == nil && string(content) == original
	}, "mirror copy never written")

	// Give the watcher a beat before editing behind the session's back.
	time.Sleep(100 * time.Millisecond)

	edited := "alpha\nBETA\ngamma\ndelta\n"
	if err := os.WriteFile(docPath, []byte(edited), 0644); err != nil {
		t.Fatal(err)
	}

	eventually(t, func() bool {
		content, version, _ := s.Files.GetFromURI(uri)
		return content == edited && version == 2
	}, "external edit never reached the document store")

	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(notified) > 0
	}, "didChange notification never arrived")

	mu.Lock()
	p := notified[0]
	mu.Unlock()
	if p.TextDocument.URI != uri || p.TextDocument.Version != 2 {
		t.Errorf("notification for %s v%d", p.TextDocument.URI, p.TextDocument.Version)
	}
	if len(p.ContentChanges) == 0 {
		t.Fatal("notification carried no changes")
	}
	for i, ch := range p.ContentChanges {
		if ch.Range == nil {
			t.Errorf("change %d is a full-text replacement", i)
		}
	}

	// Replaying the changes against the original reproduces the edit.
	got := original
	for _, ch := range p.ContentChanges {
		next, err := server.ApplyIncrementalChange(got, *ch.Range, ch.Text, transport.UTF16)
		if err != nil {
			t.Fatal(err)
		}
		got = next
	}
	if got != edited {
		t.Errorf("replayed changes produced %q, want %q", got, edited)
	}
}

func TestWorkspaceMirrorRemovedOnShutdown(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "doc.txt"), []byte("x\n"), 0644); err != nil {
		t.Fatal(err)
	}

	s, client, _ := startSession(t)
	ctx := context.Background()

	params := initializeParams()
	params.RootURI = util.Path2URI(root)
	if err := client.Call(ctx, "initialize", params, nil); err != nil {
		t.Fatal(err)
	}
	client.Notify("initialized", struct{}{})
	eventually(t, func() bool { return s.Workspace.MirrorDir() != "" }, "workspace mirror never created")
	mirror := s.Workspace.MirrorDir()

	if err := client.Call(ctx, "shutdown", nil, nil); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool {
		_, err := os.Stat(mirror)
		return os.IsNotExist(err)
	}, "mirror dir not removed on shutdown")
}
