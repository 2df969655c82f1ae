package server

import (
	"errors"
	"fmt"
	"testing"

	"github.com/kestrel-wm/kestrel/pkg/protocol"
)

func TestClientError(t *testing.T) {
	err := &ClientError{Op: "add", Object: 5, Err: ErrDuplicateID}

	want := "server: add 5: server: object id already in use"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, ErrDuplicateID) {
		t.Error("Unwrap should return the cause error")
	}
}

func TestRequestError(t *testing.T) {
	cause := &protocol.ParseError{Offset: 4, Err: protocol.ErrNonUTF8}
	err := &RequestError{Interface: "wl_registry", Request: "bind", Err: cause}

	if got := err.Error(); got != "wl_registry: could not process a `bind` request: "+cause.Error() {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, protocol.ErrNonUTF8) {
		t.Error("errors.Is should reach the parse error kind")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind ErrorKind
		wantObj  protocol.ObjectID
		wantCode uint32
	}{
		{
			name:     "protocol error",
			err:      fmt.Errorf("wrapped: %w", NewProtocolError(9, 2, "bad stride %d", 3)),
			wantKind: KindProtocol,
			wantObj:  9,
			wantCode: 2,
		},
		{
			name:     "parse error",
			err:      &RequestError{Interface: "wl_pointer", Request: "set_cursor", Err: &protocol.ParseError{Err: protocol.ErrUnexpectedEOF}},
			wantKind: KindDecode,
			wantObj:  4,
			wantCode: uint32(protocol.InvalidMethod),
		},
		{
			name:     "opcode out of range",
			err:      &ClientError{Op: "dispatch", Object: 4, Err: ErrOpcodeOutOfRange},
			wantKind: KindDecode,
			wantObj:  4,
			wantCode: uint32(protocol.InvalidMethod),
		},
		{
			name:     "unknown id",
			err:      &ClientError{Op: "lookup", Object: 8, Err: ErrUnknownID},
			wantKind: KindRegistry,
			wantObj:  4,
			wantCode: uint32(protocol.InvalidObject),
		},
		{
			name:     "no memory",
			err:      &ClientError{Op: "new_id", Err: ErrNoMemory},
			wantKind: KindResource,
			wantObj:  4,
			wantCode: uint32(protocol.NoMemory),
		},
		{
			name:     "anything else",
			err:      errors.New("boom"),
			wantKind: KindImplementation,
			wantObj:  4,
			wantCode: uint32(protocol.Implementation),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, obj, code := Classify(tt.err, 4)
			if kind != tt.wantKind || obj != tt.wantObj || code != tt.wantCode {
				t.Errorf("Classify() = %s, %s, %d, want %s, %s, %d",
					kind, obj, code, tt.wantKind, tt.wantObj, tt.wantCode)
			}
		})
	}
}

func TestHandlerError(t *testing.T) {
	err := &HandlerError{Interface: "wl_seat", Object: 3, Opcode: 1, Panic: "nil map"}
	want := "server: handler panic in wl_seat@3 opcode 1: nil map"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
