package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Logger is the global logger instance.
var Logger *slog.Logger

// Init initializes the logger with a file output. An empty path logs to a
// default file under the platform temp directory.
func Init(path string) {
	// TODO: rotate the log file instead of truncating on every start
	if path == "" {
		// os.TempDir gives temporary directory of any platform
		path = filepath.Join(os.TempDir(), "lspkit-log.txt")
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		panic("Couldn't Open Log File")
	}
	InitWriter(f)
}

// InitWriter initializes the logger against an arbitrary writer.
func InitWriter(w io.Writer) {
	Logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func init() {
	// Library consumers that never call Init still get a usable logger.
	InitWriter(io.Discard)
}
