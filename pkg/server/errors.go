package server

import (
	"errors"
	"fmt"

	"github.com/kestrel-wm/kestrel/pkg/protocol"
)

// Sentinel errors for registry, binding and connection failures.
var (
	// ErrDuplicateID is returned when a client reuses the ID of a live object.
	ErrDuplicateID = errors.New("server: object id already in use")

	// ErrUnknownID is returned when an ID does not denote a live object.
	ErrUnknownID = errors.New("server: no such object")

	// ErrWrongInterface is returned when an object has a different interface than required.
	ErrWrongInterface = errors.New("server: object has the wrong interface")

	// ErrServerID is returned when a client creates an object in the server ID range.
	ErrServerID = errors.New("server: client used a server-allocated id")

	// ErrNullID is returned when a client creates an object with ID 0.
	ErrNullID = errors.New("server: object id 0 is reserved")

	// ErrOpcodeOutOfRange is returned for opcodes past the object's request count.
	ErrOpcodeOutOfRange = errors.New("server: opcode out of range")

	// ErrUnknownGlobal is returned when binding a name that is not advertised.
	ErrUnknownGlobal = errors.New("server: unknown global")

	// ErrInterfaceMismatch is returned when a bind names the wrong interface.
	ErrInterfaceMismatch = errors.New("server: global has a different interface")

	// ErrVersionTooHigh is returned when a bind requests a version the global does not offer.
	ErrVersionTooHigh = errors.New("server: requested version too high")

	// ErrSingletonBound is returned when a singleton global is bound twice.
	ErrSingletonBound = errors.New("server: singleton global already bound")

	// ErrNotPrivileged is returned when an unprivileged client binds a secure global.
	ErrNotPrivileged = errors.New("server: global requires a privileged connection")

	// ErrNoMemory is returned when a resource such as the server ID space is exhausted.
	ErrNoMemory = errors.New("server: out of resources")

	// ErrTooManyClients is returned when the client limit is reached.
	ErrTooManyClients = errors.New("server: too many clients")

	// ErrSlowClient is the reason given to clients that do not drain their output.
	ErrSlowClient = errors.New("server: client does not read its events")

	// ErrClientClosed is returned when an operation targets a disconnected client.
	ErrClientClosed = errors.New("server: client closed")

	// ErrFdsUnsupported is returned when a transport cannot carry file descriptors.
	ErrFdsUnsupported = errors.New("server: transport cannot pass file descriptors")
)

// ClientError is a registry or binding failure attributed to one client.
type ClientError struct {
	Op     string
	Object protocol.ObjectID
	Err    error
}

// Error returns the error message with the object context.
func (e *ClientError) Error() string {
	return fmt.Sprintf("server: %s %d: %v", e.Op, e.Object, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *ClientError) Unwrap() error {
	return e.Err
}

// RequestError wraps the failure of one request handler.
type RequestError struct {
	Interface string
	Request   string
	Err       error
}

// Error returns the error message.
func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: could not process a `%s` request: %v", e.Interface, e.Request, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *RequestError) Unwrap() error {
	return e.Err
}

// ProtocolError is an interface-defined error reported to the client with
// its own code, for example wl_shm.invalid_stride.
type ProtocolError struct {
	Object  protocol.ObjectID
	Code    uint32
	Message string
}

// Error returns the error message.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error %d on object %d: %s", e.Code, e.Object, e.Message)
}

// NewProtocolError creates a new ProtocolError.
func NewProtocolError(object protocol.ObjectID, code uint32, format string, args ...any) *ProtocolError {
	return &ProtocolError{
		Object:  object,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// HandlerError wraps a panic that occurred in a request handler.
type HandlerError struct {
	Interface string
	Object    protocol.ObjectID
	Opcode    uint16
	Panic     any
	Stack     []byte
}

// Error returns the error message.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("server: handler panic in %s@%d opcode %d: %v",
		e.Interface, e.Object, e.Opcode, e.Panic)
}

// registryErrors are reported to the client as invalid_object.
var registryErrors = []error{
	ErrDuplicateID, ErrUnknownID, ErrWrongInterface, ErrServerID, ErrNullID,
	ErrUnknownGlobal, ErrInterfaceMismatch, ErrVersionTooHigh, ErrSingletonBound,
	ErrNotPrivileged,
}

// ErrorKind names the category of a fatal error for logs and metrics.
type ErrorKind string

const (
	KindProtocol       ErrorKind = "protocol"
	KindDecode         ErrorKind = "decode"
	KindRegistry       ErrorKind = "registry"
	KindResource       ErrorKind = "resource"
	KindImplementation ErrorKind = "implementation"
)

// Classify maps an error that reached the dispatch boundary to the code and
// object reported in wl_display.error. fallback names the object the failed
// request was addressed to.
func Classify(err error, fallback protocol.ObjectID) (ErrorKind, protocol.ObjectID, uint32) {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return KindProtocol, pe.Object, pe.Code
	}
	var parse *protocol.ParseError
	if errors.As(err, &parse) || errors.Is(err, ErrOpcodeOutOfRange) {
		return KindDecode, fallback, uint32(protocol.InvalidMethod)
	}
	for _, target := range registryErrors {
		if errors.Is(err, target) {
			return KindRegistry, fallback, uint32(protocol.InvalidObject)
		}
	}
	if errors.Is(err, ErrNoMemory) {
		return KindResource, fallback, uint32(protocol.NoMemory)
	}
	return KindImplementation, fallback, uint32(protocol.Implementation)
}
