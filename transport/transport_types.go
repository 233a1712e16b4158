package transport

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Message struct {
	Jsonrpc string `json:"jsonrpc"`
}

type RequestMessage struct {
	Message
	ID     any             `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type ResponseMessage struct {
	Message
	ID     any             `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ResponseError  `json:"error,omitempty"`
}

type ResponseError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

type NotificationMessage struct {
	Message
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

const (
	ParseError                     int = -32700
	InvalidRequest                 int = -32600
	MethodNotFound                 int = -32601
	InvalidParams                  int = -32602
	InternalError                  int = -32603
	JSONRPCReservedErrorRangeStart int = -32099
	ServerNotInitialized           int = -32002
	UnknownErrorCode               int = -32001
	JSONRPCReservedErrorRangeEnd   int = -32000
	RequestFailed                  int = -32803
	ServerCancelled                int = -32802
	ContentModified                int = -32801
	RequestCancelled               int = -32800
)

// MessageKind discriminates the three JSON-RPC message shapes.
type MessageKind int

const (
	KindRequest MessageKind = iota
	KindNotification
	KindResponse
)

func (k MessageKind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	}
	return "unknown"
}

// ErrMalformedMessage reports a decoded frame body that matches none of the
// three JSON-RPC message shapes. Local to the one frame, never fatal.
var ErrMalformedMessage = errors.New("malformed jsonrpc message")

// Envelope is the decoded, shape-checked form of one frame body. Exactly one
// of the three interpretations is valid, indicated by Kind.
type Envelope struct {
	Kind   MessageKind
	ID     any             // requests and responses
	Method string          // requests and notifications
	Params json.RawMessage // requests and notifications
	Result json.RawMessage // responses
	Error  *ResponseError  // responses
}

// Decode parses a frame body and classifies it by field presence:
// method with id is a request, method without id a notification, id with
// exactly one of result/error a response. Anything else is malformed.
//
// Presence is checked on the raw object, not on decoded values: a response
// carrying "result": null is a legitimate empty success, not a missing field.
func Decode(body []byte) (Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return Envelope{}, err
	}

	var method string
	if raw, ok := fields["method"]; ok {
		if err := json.Unmarshal(raw, &method); err != nil {
			return Envelope{}, fmt.Errorf("%w: method must be a string", ErrMalformedMessage)
		}
	}

	var id any
	hasID := false
	if raw, ok := fields["id"]; ok {
		if err := json.Unmarshal(raw, &id); err != nil {
			return Envelope{}, err
		}
		switch id.(type) {
		case string, float64:
			hasID = true
		case nil:
			// An explicit null id marks a message with no reply channel.
		default:
			return Envelope{}, fmt.Errorf("%w: id must be a string or number", ErrMalformedMessage)
		}
	}

	resultRaw, hasResult := fields["result"]
	errorRaw, hasError := fields["error"]
	if hasError && string(errorRaw) == "null" {
		// Some encoders emit "error": null next to a result; only an error
		// object counts as a present error.
		hasError = false
	}

	switch {
	case method != "":
		if hasResult || hasError {
			return Envelope{}, fmt.Errorf("%w: method with result or error", ErrMalformedMessage)
		}
		if hasID {
			return Envelope{Kind: KindRequest, ID: id, Method: method, Params: fields["params"]}, nil
		}
		return Envelope{Kind: KindNotification, Method: method, Params: fields["params"]}, nil

	case hasID:
		if hasResult == hasError {
			return Envelope{}, fmt.Errorf("%w: response needs exactly one of result and error", ErrMalformedMessage)
		}
		env := Envelope{Kind: KindResponse, ID: id}
		if hasError {
			var rerr ResponseError
			if err := json.Unmarshal(errorRaw, &rerr); err != nil {
				return Envelope{}, fmt.Errorf("%w: %s", ErrMalformedMessage, err)
			}
			env.Error = &rerr
		} else {
			env.Result = resultRaw
		}
		return env, nil
	}
	return Envelope{}, fmt.Errorf("%w: neither method nor id present", ErrMalformedMessage)
}
