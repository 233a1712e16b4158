package rpc

import (
	"errors"
	"fmt"

	"github.com/carn181/lspkit/transport"
)

var (
	// ErrConnClosed resolves every outstanding and future Call once the
	// transport ends.
	ErrConnClosed = errors.New("rpc: connection closed")
)

// NewError builds a response error with a formatted message.
func NewError(code int, format string, args ...any) *transport.ResponseError {
	return &transport.ResponseError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CallError converts a Call failure back into its wire error if it was one.
func CallError(err error) (*transport.ResponseError, bool) {
	var rerr *transport.ResponseError
	if errors.As(err, &rerr) {
		return rerr, true
	}
	return nil, false
}
