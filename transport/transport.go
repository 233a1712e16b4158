package transport

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
)

type TransportMethod int

const (
	Stdio = iota
	Socket
)

// Useful for socket dialling or listening based on client and server
type TransportType int

const (
	Client = iota
	Server
)

// ErrInvalidHeader reports a malformed frame header block. Header errors are
// fatal to the stream: once a header cannot be parsed there is no way to find
// the next frame boundary.
var ErrInvalidHeader = errors.New("invalid frame header")

// Transport reads and writes Content-Length framed messages over a duplex
// byte stream. The stream is supplied by the caller, so multiple independent
// transports can coexist and be tested in isolation.
type Transport struct {
	Type    TransportType   // client or server
	Method  TransportMethod // type of stream
	Scanner *bufio.Scanner  // framed reader
	Writer  io.Writer
	Closed  bool

	conn net.Conn     // connection to close for client
	ln   net.Listener // listener to close for server
	rc   io.Closer    // reader to close, when closable
	wc   io.Closer    // writer to close, when closable
	wmu  sync.Mutex   // one frame at a time on the wire
}

// Init sets the transport up on stdio or a tcp socket. addr is only used for
// the socket method.
func (t *Transport) Init(ttype TransportType, method TransportMethod, addr string) error {
	t.Method = method
	t.Type = ttype
	var r io.Reader

	switch t.Method {
	// Communicate with peer through stdin/stdout
	case Stdio:
		r = os.Stdin
		t.Writer = os.Stdout

	// Communicate with peer through tcp socket
	case Socket:
		var conn net.Conn
		var err error
		switch t.Type {
		case Server:
			t.ln, err = net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			conn, err = t.ln.Accept()
			if err != nil {
				return err
			}
		case Client:
			conn, err = net.Dial("tcp", addr)
			if err != nil {
				return err
			}
		}
		t.conn = conn
		r = conn
		t.Writer = conn
	}

	t.initScanner(r)
	return nil
}

// InitIO sets the transport up on an arbitrary reader/writer pair. Used for
// in-process loopback connections and tests.
func (t *Transport) InitIO(r io.Reader, w io.Writer) {
	t.Method = Stdio
	t.Writer = w
	// Closing the stream is the only way to unblock a pending read, so keep
	// the closers when the caller's streams have them.
	t.rc, _ = r.(io.Closer)
	t.wc, _ = w.(io.Closer)
	t.initScanner(r)
}

func (t *Transport) initScanner(r io.Reader) {
	// TODO: Find dynamic buffer for handling large files
	const maxBufferSize = 1024 * 1024 * 10 // 10 MB
	buf := make([]byte, maxBufferSize)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(buf, maxBufferSize)
	scanner.Split(split)
	t.Scanner = scanner
}

// Read returns the body of one framed message. The body is raw JSON; decode
// failures above this layer never desynchronize the stream because the frame
// boundary comes from the declared byte length alone. A header error is
// returned as ErrInvalidHeader and ends the stream.
func (t *Transport) Read() ([]byte, error) {
	if !t.Scanner.Scan() {
		if err := t.Scanner.Err(); err != nil {
			return nil, err
		}
		t.Closed = true
		return nil, io.EOF
	}

	rawMessage := t.Scanner.Bytes()
	_, content, _ := bytes.Cut(rawMessage, []byte{'\r', '\n', '\r', '\n'})
	return content, nil
}

// Write frames msg with a Content-Length header and writes it as one atomic
// unit. Concurrent writers never interleave partial frames.
func (t *Transport) Write(msg []byte) error {
	header := []byte("Content-Length: " + strconv.Itoa(len(msg)) + "\r\n\r\n")

	t.wmu.Lock()
	defer t.wmu.Unlock()
	_, err := t.Writer.Write(append(header, msg...))
	return err
}

// WriteNotif writes a JSON RPC Notification Message
func (t *Transport) WriteNotif(method string, params json.RawMessage) error {
	msg, err := json.Marshal(
		NotificationMessage{
			Message: Message{Jsonrpc: "2.0"},
			Method:  method,
			Params:  params,
		})
	if err != nil {
		return err
	}
	return t.Write(msg)
}

// WriteRequest writes a JSON RPC Request Message
func (t *Transport) WriteRequest(id any, method string, params json.RawMessage) error {
	msg, err := json.Marshal(
		RequestMessage{
			Message: Message{Jsonrpc: "2.0"},
			ID:      id,
			Method:  method,
			Params:  params,
		})
	if err != nil {
		return err
	}
	return t.Write(msg)
}

// WriteResponse writes a JSON RPC Response Message
func (t *Transport) WriteResponse(id any, result json.RawMessage, responseError *ResponseError) error {
	msg, err := json.Marshal(
		ResponseMessage{
			Message: Message{Jsonrpc: "2.0"},
			ID:      id,
			Result:  result,
			Error:   responseError,
		})
	if err != nil {
		return err
	}
	return t.Write(msg)
}

func (t *Transport) Close() {
	t.Closed = true
	if t.conn != nil {
		t.conn.Close()
	}
	if t.ln != nil {
		t.ln.Close()
	}
	if t.rc != nil {
		t.rc.Close()
	}
	if t.wc != nil {
		t.wc.Close()
	}
}

// Split function for the scanner to cut one framed message out of the stream.
// The header block is one or more "Field: value\r\n" lines terminated by a
// blank line; Content-Length is required, other fields are ignored.
func split(data []byte, atEOF bool) (advance int, token []byte, err error) {
	header, content, found := bytes.Cut(data, []byte{'\r', '\n', '\r', '\n'})
	if !found {
		if atEOF && len(data) > 0 {
			return 0, nil, fmt.Errorf("%w: stream ended inside header block", ErrInvalidHeader)
		}
		return 0, nil, nil
	}

	contentLength, err := parseHeader(header)
	if err != nil {
		return 0, nil, err
	}

	if len(content) < contentLength {
		if atEOF {
			return 0, nil, fmt.Errorf("%w: stream ended %d bytes into a %d byte body",
				ErrInvalidHeader, len(content), contentLength)
		}
		return 0, nil, nil
	}

	totalLength := len(header) + 4 + contentLength
	return totalLength, data[:totalLength], nil
}

// parseHeader extracts the Content-Length value from a raw header block.
func parseHeader(header []byte) (int, error) {
	contentLength := -1
	for _, line := range strings.Split(string(header), "\r\n") {
		name, value, found := strings.Cut(line, ":")
		if !found {
			return 0, fmt.Errorf("%w: %q", ErrInvalidHeader, line)
		}
		if strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || n < 0 {
				return 0, fmt.Errorf("%w: bad Content-Length %q", ErrInvalidHeader, value)
			}
			contentLength = n
		}
	}
	if contentLength < 0 {
		return 0, fmt.Errorf("%w: missing Content-Length", ErrInvalidHeader)
	}
	return contentLength, nil
}
