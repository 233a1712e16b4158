package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/carn181/lspkit/logging"
	"github.com/carn181/lspkit/transport"
)

// CancelMethod is the well-known notification that requests cooperative
// cancellation of an in-flight request by id.
const CancelMethod = "$/cancelRequest"

// Handler handles one method. Implementations report caller mistakes through
// the returned ResponseError; anything else that goes wrong should be a
// panic-free InternalError conversion at the dispatch boundary, not here.
type Handler interface {
	Handle(ctx context.Context, params json.RawMessage) (json.RawMessage, *transport.ResponseError)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (json.RawMessage, *transport.ResponseError)

func (f HandlerFunc) Handle(ctx context.Context, params json.RawMessage) (json.RawMessage, *transport.ResponseError) {
	return f(ctx, params)
}

// pendingCall is the completion slot for one outstanding request. The Conn
// owns the table; callers hold only the channel, never the Conn internals.
type pendingCall struct {
	ch chan transport.Envelope // fulfilled exactly once
}

// Conn correlates requests with responses and dispatches incoming traffic to
// registered handlers over one framed transport. Reads are sequential and
// order-preserving; handler execution is concurrent; writes are serialized by
// the transport.
type Conn struct {
	ID string // short id for log correlation

	t *transport.Transport

	mu       sync.Mutex
	pending  map[string]pendingCall
	handlers map[string]Handler
	fallback Fallback
	inflight map[string]context.CancelFunc // running request handlers by id

	nextID atomic.Int64
	closed atomic.Bool
	done   chan struct{}
	sem    *semaphore.Weighted

	closeOnce sync.Once
}

// ConnOption configures a Conn.
type ConnOption func(*Conn)

// WithHandlerLimit bounds the number of concurrently running handlers.
func WithHandlerLimit(n int64) ConnOption {
	return func(c *Conn) {
		if n > 0 {
			c.sem = semaphore.NewWeighted(n)
		}
	}
}

// NewConn wraps a transport. The transport must already be initialized.
func NewConn(t *transport.Transport, opts ...ConnOption) *Conn {
	c := &Conn{
		ID:       uuid.NewString()[:8],
		t:        t,
		pending:  make(map[string]pendingCall),
		handlers: make(map[string]Handler),
		inflight: make(map[string]context.CancelFunc),
		done:     make(chan struct{}),
		sem:      semaphore.NewWeighted(16),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterHandler maps a method name to its handler. Registration happens
// before traffic begins and is idempotent for the same handler slot.
func (c *Conn) RegisterHandler(method string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[method] = h
}

// Fallback handles requests whose method has no registered handler. It sees
// the method name, unlike a normal Handler.
type Fallback func(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, *transport.ResponseError)

// RegisterFallback installs the unknown-method request handler. Without one,
// unknown requests get a MethodNotFound response.
func (c *Conn) RegisterFallback(f Fallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fallback = f
}

// Call sends a request and blocks until the matching response arrives, ctx
// ends, or the connection closes. A ctx end sends a best-effort cancellation
// notification; the pending entry is removed eagerly so a late response is
// discarded by the unmatched-id path instead of leaking.
func (c *Conn) Call(ctx context.Context, method string, params any, result any) error {
	if c.closed.Load() {
		return ErrConnClosed
	}

	raw, err := marshalParams(params)
	if err != nil {
		return err
	}

	id := c.nextID.Add(1)
	key := strconv.FormatInt(id, 10)
	call := pendingCall{ch: make(chan transport.Envelope, 1)}

	c.mu.Lock()
	c.pending[key] = call
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
	}()

	if err := c.t.WriteRequest(id, method, raw); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		// The peer keeps processing; tell it we no longer care.
		cancel, _ := json.Marshal(transport.CancelParams{ID: id})
		_ = c.t.WriteNotif(CancelMethod, cancel)
		return ctx.Err()
	case <-c.done:
		return ErrConnClosed
	case env := <-call.ch:
		if env.Error != nil {
			return env.Error
		}
		if result != nil && len(env.Result) > 0 {
			if err := json.Unmarshal(env.Result, result); err != nil {
				return err
			}
		}
		return nil
	}
}

// Notify sends a one-way notification.
func (c *Conn) Notify(method string, params any) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	raw, err := marshalParams(params)
	if err != nil {
		return err
	}
	return c.t.WriteNotif(method, raw)
}

// Run consumes the transport until it fails or ends. Frames are decoded and
// routed one at a time so dispatch order matches wire order; handlers then
// run concurrently, bounded by the handler limit. Run returns nil on a clean
// peer close and the transport error otherwise; either way every outstanding
// Call resolves with ErrConnClosed.
func (c *Conn) Run(ctx context.Context) error {
	defer c.teardown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		body, err := c.t.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		env, err := transport.Decode(body)
		if err != nil {
			// One bad body never desynchronizes the stream; the framer
			// already consumed the declared byte count.
			logging.Logger.Warn("Discarding undecodable frame", "conn", c.ID, "error", err)
			continue
		}

		switch env.Kind {
		case transport.KindResponse:
			c.resolve(env)
		case transport.KindRequest, transport.KindNotification:
			c.dispatch(ctx, env)
		}
	}
}

// Close tears the connection down without waiting for the peer.
func (c *Conn) Close() {
	c.teardown()
	c.t.Close()
}

func (c *Conn) teardown() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)

		c.mu.Lock()
		for _, cancel := range c.inflight {
			cancel()
		}
		c.inflight = make(map[string]context.CancelFunc)
		c.pending = make(map[string]pendingCall)
		c.mu.Unlock()
	})
}

// resolve fulfills the pending call matching a response id. An unrecognized
// id is logged and discarded; the peer may answer a call we abandoned.
func (c *Conn) resolve(env transport.Envelope) {
	key := idKey(env.ID)

	c.mu.Lock()
	call, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.mu.Unlock()

	if !ok {
		logging.Logger.Warn("Response with no matching call", "conn", c.ID, "id", env.ID)
		return
	}
	call.ch <- env
}

// dispatch schedules a handler for a request or notification. Scheduling
// order follows wire order: the semaphore is acquired here, on the reader
// goroutine, before the handler goroutine is launched.
func (c *Conn) dispatch(ctx context.Context, env transport.Envelope) {
	if env.Kind == transport.KindNotification && env.Method == CancelMethod {
		c.cancelInflight(env.Params)
		return
	}

	c.mu.Lock()
	h, ok := c.handlers[env.Method]
	fallback := c.fallback
	c.mu.Unlock()

	if !ok && fallback != nil && env.Kind == transport.KindRequest {
		h = HandlerFunc(func(ctx context.Context, params json.RawMessage) (json.RawMessage, *transport.ResponseError) {
			return fallback(ctx, env.Method, params)
		})
		ok = true
	}

	if !ok {
		if env.Kind == transport.KindRequest {
			err := c.t.WriteResponse(env.ID, nil, NewError(transport.MethodNotFound, "method not found: %s", env.Method))
			if err != nil {
				logging.Logger.Error("Failed to write MethodNotFound", "conn", c.ID, "error", err)
			}
		} else {
			// No reply channel exists for notifications.
			logging.Logger.Warn("Dropping notification for unknown method", "conn", c.ID, "method", env.Method)
		}
		return
	}

	hctx := ctx
	var cancel context.CancelFunc
	if env.Kind == transport.KindRequest {
		hctx, cancel = context.WithCancel(ctx)
		c.mu.Lock()
		c.inflight[idKey(env.ID)] = cancel
		c.mu.Unlock()
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		if cancel != nil {
			cancel()
		}
		return
	}

	go func() {
		defer c.sem.Release(1)
		c.invoke(hctx, h, env)
		if cancel != nil {
			c.mu.Lock()
			delete(c.inflight, idKey(env.ID))
			c.mu.Unlock()
			cancel()
		}
	}()
}

// invoke runs one handler and, for requests, writes the response. Panics and
// unexpected failures become InternalError responses instead of reaching the
// reader or writer paths.
func (c *Conn) invoke(ctx context.Context, h Handler, env transport.Envelope) {
	var result json.RawMessage
	var rerr *transport.ResponseError

	func() {
		defer func() {
			if r := recover(); r != nil {
				logging.Logger.Error("Handler panicked", "conn", c.ID, "method", env.Method, "panic", r)
				rerr = NewError(transport.InternalError, "internal error in %s", env.Method)
			}
		}()
		result, rerr = h.Handle(ctx, env.Params)
	}()

	if env.Kind != transport.KindRequest {
		if rerr != nil {
			logging.Logger.Warn("Notification handler failed", "conn", c.ID, "method", env.Method, "error", rerr.Message)
		}
		return
	}

	if rerr == nil && ctx.Err() != nil {
		rerr = NewError(transport.RequestCancelled, "request cancelled")
	}
	if rerr == nil && result == nil {
		result = json.RawMessage("null")
	}
	if err := c.t.WriteResponse(env.ID, result, rerr); err != nil {
		logging.Logger.Error("Failed to write response", "conn", c.ID, "method", env.Method, "error", err)
	}
}

// cancelInflight flips the cooperative flag for a running request handler.
// Cancellation never forcibly interrupts the handler.
func (c *Conn) cancelInflight(params json.RawMessage) {
	var p transport.CancelParams
	if err := json.Unmarshal(params, &p); err != nil {
		logging.Logger.Warn("Bad cancel params", "conn", c.ID, "error", err)
		return
	}

	c.mu.Lock()
	cancel, ok := c.inflight[idKey(p.ID)]
	c.mu.Unlock()

	if ok {
		cancel()
	}
}

// idKey normalizes a wire id (JSON string or number) to a map key so that our
// int64 counter matches the float64 a JSON decode produces.
func idKey(id any) string {
	switch v := id.(type) {
	case string:
		return "s:" + v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(params)
}
