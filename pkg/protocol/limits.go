package protocol

// Framing limits. The size field is 16 bits wide, so no message can exceed
// MaxMessageSize.
const (
	// HeaderSize is the size of the message header in bytes.
	HeaderSize = 8

	// MaxMessageSize is the largest message the size field can describe.
	MaxMessageSize = 0xffff &^ 3

	// DefaultMaxMessageSize matches the libwayland connection buffer.
	DefaultMaxMessageSize = 4096

	// MaxFdsPerMessage bounds the descriptors accepted with one read.
	MaxFdsPerMessage = 28

	// MaxQueuedFds bounds the descriptors a connection may hold that no
	// request has consumed yet.
	MaxQueuedFds = 4 * MaxFdsPerMessage
)
