// Package util converts between filesystem paths and file URIs, the two
// names every document travels under.
package util

import (
	"net/url"
	"path/filepath"
	"runtime"
	"strings"
	"unicode"
)

type Path = string
type URI = string

// Handle carries both names for one document.
type Handle struct {
	URI  URI
	Path Path
}

func FromPath(path Path) Handle {
	return Handle{Path2URI(path), path}
}

func FromURI(uri URI) (Handle, error) {
	path, err := URI2path(uri)
	return Handle{uri, path}, err
}

// URI2path converts a file URI into a native filesystem path. Windows drive
// letters arrive as "/c:/..." and lose the leading slash.
func URI2path(uri URI) (Path, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", err
	}
	path := u.Path
	if isWindowsDriveURIPath(path) {
		path = strings.ToUpper(string(path[1])) + path[2:]
	}
	return filepath.FromSlash(path), nil
}

// Path2URI converts a native filesystem path into a file URI.
func Path2URI(path Path) URI {
	if runtime.GOOS == "windows" {
		path = "/" + strings.ReplaceAll(path, "\\", "/")
	}
	return "file://" + path
}

// isWindowsDriveURIPath reports whether a URI path component starts with a
// drive letter, like "/c:/Users".
func isWindowsDriveURIPath(path string) bool {
	if len(path) < 4 {
		return false
	}
	return path[0] == '/' && unicode.IsLetter(rune(path[1])) && path[2] == ':'
}
