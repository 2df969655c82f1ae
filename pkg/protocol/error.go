package protocol

// ErrorCode is a wl_display error code carried by the display error event.
// Interfaces define their own codes; these are the ones every connection can
// receive on the display object.
type ErrorCode uint32

const (
	InvalidObject  ErrorCode = 0 // Request addressed a missing or wrong object
	InvalidMethod  ErrorCode = 1 // Unknown opcode or malformed arguments
	NoMemory       ErrorCode = 2 // Server ran out of a resource
	Implementation ErrorCode = 3 // Server-side failure
)

// String returns the string representation of the error code.
func (ec ErrorCode) String() string {
	switch ec {
	case InvalidObject:
		return "invalid_object"
	case InvalidMethod:
		return "invalid_method"
	case NoMemory:
		return "no_memory"
	case Implementation:
		return "implementation"
	default:
		return "unknown"
	}
}
