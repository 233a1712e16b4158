package transport_test

import (
	"errors"
	"testing"

	"github.com/carn181/lspkit/transport"
)

func TestDecodeClassification(t *testing.T) {
	tests := []struct {
		name string
		body string
		kind transport.MessageKind
	}{
		{
			name: "request with number id",
			body: `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
			kind: transport.KindRequest,
		},
		{
			name: "request with string id",
			body: `{"jsonrpc":"2.0","id":"a-1","method":"shutdown"}`,
			kind: transport.KindRequest,
		},
		{
			name: "notification",
			body: `{"jsonrpc":"2.0","method":"exit"}`,
			kind: transport.KindNotification,
		},
		{
			name: "notification with null id",
			body: `{"jsonrpc":"2.0","id":null,"method":"exit"}`,
			kind: transport.KindNotification,
		},
		{
			name: "response with result",
			body: `{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`,
			kind: transport.KindResponse,
		},
		{
			name: "response with null result",
			body: `{"jsonrpc":"2.0","id":1,"result":null}`,
			kind: transport.KindResponse,
		},
		{
			name: "response with error",
			body: `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"nope"}}`,
			kind: transport.KindResponse,
		},
		{
			name: "response with result and null error",
			body: `{"jsonrpc":"2.0","id":1,"result":{"ok":true},"error":null}`,
			kind: transport.KindResponse,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := transport.Decode([]byte(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			if env.Kind != tt.kind {
				t.Errorf("kind = %v, want %v", env.Kind, tt.kind)
			}
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty object", `{}`},
		{"jsonrpc only", `{"jsonrpc":"2.0"}`},
		{"method with result", `{"id":1,"method":"m","result":null}`},
		{"response with result and error", `{"id":1,"result":1,"error":{"code":1,"message":"x"}}`},
		{"response with neither", `{"id":1}`},
		{"boolean id", `{"id":true,"method":"m"}`},
		{"object id", `{"id":{},"method":"m"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := transport.Decode([]byte(tt.body))
			if !errors.Is(err, transport.ErrMalformedMessage) {
				t.Errorf("got %v, want ErrMalformedMessage", err)
			}
		})
	}
}

// A null result is an empty success, the shape shutdown responses carry. It
// must classify as a response with the result field present.
func TestDecodeNullResult(t *testing.T) {
	env, err := transport.Decode([]byte(`{"jsonrpc":"2.0","id":1,"result":null}`))
	if err != nil {
		t.Fatal(err)
	}
	if env.Kind != transport.KindResponse {
		t.Fatalf("kind = %v", env.Kind)
	}
	if env.Error != nil {
		t.Errorf("error = %+v", env.Error)
	}
	if string(env.Result) != "null" {
		t.Errorf("result = %q, want null literal", env.Result)
	}
}

func TestDecodeNotJSON(t *testing.T) {
	if _, err := transport.Decode([]byte("{{{")); err == nil {
		t.Error("expected error for invalid json")
	}
}

func TestDecodeResponseFields(t *testing.T) {
	env, err := transport.Decode([]byte(`{"jsonrpc":"2.0","id":3,"error":{"code":-32800,"message":"cancelled"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if env.Error == nil || env.Error.Code != transport.RequestCancelled {
		t.Errorf("error = %+v", env.Error)
	}
	if id, ok := env.ID.(float64); !ok || id != 3 {
		t.Errorf("id = %v (%T)", env.ID, env.ID)
	}
}
