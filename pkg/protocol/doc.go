// Package protocol implements the Wayland-style binary wire format used by
// kestrel clients and the compositor.
//
// The format is a stream of messages made of 32-bit words in host byte order.
// Requests flow from client to server, events from server to client, and both
// share the same framing.
//
// # Wire Format
//
// Every message starts with an 8-byte header:
//
//	┌───────────────────────────────┬───────────────┬───────────────┐
//	│ Object ID                     │ Opcode        │ Size          │
//	│ (4 bytes)                     │ (low 16 bits) │ (high 16 bits)│
//	└───────────────────────────────┴───────────────┴───────────────┘
//	│                                                               │
//	│  Arguments (Size - 8 bytes, padded to 4-byte words)           │
//	│                                                               │
//
// Size is the total message length including the header.
//
// # Argument Encoding
//
//   - int, uint: one word
//   - fixed: one signed word holding a 24.8 fixed-point number
//   - object, new_id, global name: one word; 0 is the null reference
//   - string: a length word counting the trailing NUL, then the bytes padded
//     to a word boundary; a length of 0 is rejected
//   - array: a length word, then the bytes padded to a word boundary
//   - fd: nothing in the word stream; file descriptors travel out of band
//     (SCM_RIGHTS on Unix sockets) and are consumed in order
//
// # Decoding
//
// A Parser is scoped to one message payload. Every request handler must
// consume its payload exactly; Parser.EOF reports ErrTrailingData otherwise.
// Parsers never block and never read past the payload.
//
// # Encoding
//
// Events implement Message and are written with Encoder.Message, which fills
// in the header and total size. File descriptors attached to an event are
// queued on the Encoder and handed to the transport alongside the bytes.
package protocol
