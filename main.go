package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/carn181/lspkit/logging"
	"github.com/carn181/lspkit/server"
	"github.com/carn181/lspkit/transport"
)

func main() {
	method := flag.String("method", "stdio", "transport method: stdio | socket")
	addr := flag.String("addr", "localhost:5007", "listen address for the socket method")
	logPath := flag.String("log", "", "log file path (default: lspkit-log.txt in the temp dir)")
	flag.Parse()

	logging.Init(*logPath)
	logging.Logger.Info("Starting lspkit server", "method", *method)

	var tm transport.TransportMethod
	switch *method {
	case "stdio":
		tm = transport.Stdio
	case "socket":
		tm = transport.Socket
	default:
		fmt.Fprintf(os.Stderr, "unknown transport method %q\n", *method)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var s server.Server
	if err := s.Init(tm, *addr); err != nil {
		logging.Logger.Error("Transport init failed", "error", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := s.Run(ctx); err != nil {
		logging.Logger.Error("Server stopped", "error", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logging.Logger.Info("Ended")
}
