package server

import (
	"errors"
	"fmt"
	"sync"

	"github.com/carn181/lspkit/transport"
	"github.com/carn181/lspkit/util"
)

var (
	// ErrAlreadyOpen rejects a didOpen for a tracked document.
	ErrAlreadyOpen = errors.New("document already open")

	// ErrNotOpen rejects operations on an untracked document.
	ErrNotOpen = errors.New("document not open")

	// ErrVersionConflict rejects a change submitted out of sequence. The
	// document is left unmodified; the peer decides whether to resync with
	// a full-text update.
	ErrVersionConflict = errors.New("document version conflict")
)

// File is one mirrored open document.
type File struct {
	Handle     util.Handle
	LanguageID string
	Version    int32
	Content    []byte

	mu sync.RWMutex
}

// Files mirrors the peer's open text documents, one entry per URI.
type Files struct {
	fs       map[util.Path]*File
	mu       sync.Mutex
	encoding transport.PositionEncodingKind
}

func (files *Files) Init(encoding transport.PositionEncodingKind) {
	files.mu.Lock()
	files.fs = make(map[util.Path]*File)
	files.encoding = encoding
	files.mu.Unlock()
}

// Open starts tracking a document at the version the peer declared.
func (files *Files) Open(uri util.URI, languageID string, version int32, content string) error {
	handle, err := util.FromURI(uri)
	if err != nil {
		return err
	}

	files.mu.Lock()
	defer files.mu.Unlock()
	if _, ok := files.fs[handle.Path]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyOpen, uri)
	}
	files.fs[handle.Path] = &File{
		Handle:     handle,
		LanguageID: languageID,
		Version:    version,
		Content:    []byte(content),
	}
	return nil
}

// ModifyFull replaces a document's whole content. Any monotonic version
// increase is accepted for full-text replacements.
func (files *Files) ModifyFull(path util.Path, version int32, content string) error {
	f, ok := files.get(path)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotOpen, path)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if version <= f.Version {
		return fmt.Errorf("%w: got %d, have %d", ErrVersionConflict, version, f.Version)
	}
	f.Content = []byte(content)
	f.Version = version
	return nil
}

// ModifyIncremental applies ranged changes in order. The version must be
// exactly one greater than the stored version; on conflict nothing changes.
func (files *Files) ModifyIncremental(path util.Path, version int32, changes []transport.TextDocumentContentChangeEvent) error {
	f, ok := files.get(path)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotOpen, path)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if version != f.Version+1 {
		return fmt.Errorf("%w: got %d, have %d", ErrVersionConflict, version, f.Version)
	}

	content := string(f.Content)
	for _, change := range changes {
		if change.Range == nil {
			content = change.Text
			continue
		}
		next, err := ApplyIncrementalChange(content, *change.Range, change.Text, files.encoding)
		if err != nil {
			return err
		}
		content = next
	}
	f.Content = []byte(content)
	f.Version = version
	return nil
}

// Replace swaps a document's text for externally produced content, bumping
// the version by one. Used by the workspace watcher after it has emitted the
// matching incremental notification.
func (files *Files) Replace(path util.Path, content string) (int32, error) {
	f, ok := files.get(path)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotOpen, path)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.Content = []byte(content)
	f.Version++
	return f.Version, nil
}

// Close stops tracking a document.
func (files *Files) Close(path util.Path) error {
	files.mu.Lock()
	defer files.mu.Unlock()
	if _, ok := files.fs[path]; !ok {
		return fmt.Errorf("%w: %s", ErrNotOpen, path)
	}
	delete(files.fs, path)
	return nil
}

// Get returns a document's current text and version.
func (files *Files) Get(path util.Path) (string, int32, bool) {
	f, ok := files.get(path)
	if !ok {
		return "", 0, false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return string(f.Content), f.Version, true
}

// GetFromURI is Get keyed by URI instead of filesystem path.
func (files *Files) GetFromURI(uri util.URI) (string, int32, bool) {
	path, err := util.URI2path(uri)
	if err != nil {
		return "", 0, false
	}
	return files.Get(path)
}

// Paths lists the tracked documents.
func (files *Files) Paths() []util.Path {
	files.mu.Lock()
	defer files.mu.Unlock()
	paths := make([]util.Path, 0, len(files.fs))
	for p := range files.fs {
		paths = append(paths, p)
	}
	return paths
}

func (files *Files) get(path util.Path) (*File, bool) {
	files.mu.Lock()
	defer files.mu.Unlock()
	f, ok := files.fs[path]
	return f, ok
}
