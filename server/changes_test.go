package server

import (
	"context"
	"testing"

	"github.com/carn181/lspkit/diff"
	"github.com/carn181/lspkit/transport"
)

// Content changes apply sequentially, so replaying them one at a time with
// ApplyIncrementalChange must land on the new text exactly.
func TestChangesFromEdits(t *testing.T) {
	tests := []struct {
		name string
		old  string
		new  string
	}{
		{"replace line", "a\nb\nc\n", "a\nB\nc\n"},
		{"insert line", "a\nc\n", "a\nb\nc\n"},
		{"delete line", "a\nb\nc\n", "a\nc\n"},
		{"multiple edits", "a\nb\nc\nd\ne\n", "a\nB\nc\nD\ne\n"},
		{"grow document", "a\n", "a\nb\nc\nd\n"},
		{"shrink document", "a\nb\nc\nd\n", "a\n"},
		{"rewrite everything", "x\ny\n", "1\n2\n3\n"},
		{"unicode lines", "héllo\nwörld\n", "héllo\nmöon\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			edits := diff.ToEdits(diff.Lines(tt.old, tt.new))
			changes, err := changesFromEdits(tt.old, edits, transport.UTF16)
			if err != nil {
				t.Fatal(err)
			}

			got := tt.old
			for i, ch := range changes {
				if ch.Range == nil {
					t.Fatalf("change %d has no range", i)
				}
				got, err = ApplyIncrementalChange(got, *ch.Range, ch.Text, transport.UTF16)
				if err != nil {
					t.Fatalf("change %d: %v", i, err)
				}
			}
			if got != tt.new {
				t.Errorf("sequential application produced %q, want %q", got, tt.new)
			}
		})
	}
}

func TestChangesFromEditsNoEdits(t *testing.T) {
	changes, err := changesFromEdits("same\n", nil, transport.UTF16)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 0 {
		t.Errorf("got %d changes for empty edit list", len(changes))
	}
}

// Shutdown can overtake the initialized handler. An Init that loses the race
// against Stop must not publish a watcher or leave a mirror dir behind.
func TestWorkspaceInitAfterStop(t *testing.T) {
	s := &Server{Config: defaultConfig()}
	w := &Workspace{Root: t.TempDir()}

	w.Stop()
	if err := w.Init(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	if dir := w.MirrorDir(); dir != "" {
		t.Errorf("mirror dir %q published after stop", dir)
	}
	// Events after a lost race go nowhere instead of blocking.
	w.notifyEvent(TDEvent{Type: TDOpen, Path: "x"})
}
