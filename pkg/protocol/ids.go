package protocol

import (
	"math"
	"strconv"
)

// ObjectID identifies an object within one client connection.
// The zero value is the null reference.
type ObjectID uint32

// Object ID ranges. Client-allocated IDs live below ServerIDStart.
const (
	NullID        ObjectID = 0
	DisplayID     ObjectID = 1
	ServerIDStart ObjectID = 0xff000000
	MaxID         ObjectID = 0xffffffff
)

// IsNull reports whether id is the null reference.
func (id ObjectID) IsNull() bool {
	return id == NullID
}

// IsServer reports whether id is in the server-allocated range.
func (id ObjectID) IsServer() bool {
	return id >= ServerIDStart
}

func (id ObjectID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// GlobalName is the advertised name of a global.
type GlobalName uint32

func (n GlobalName) String() string {
	return strconv.FormatUint(uint64(n), 10)
}

// Fixed is a signed 24.8 fixed-point number.
type Fixed int32

// FixedFromInt converts an integer to Fixed.
func FixedFromInt(i int32) Fixed {
	return Fixed(i << 8)
}

// FixedFromFloat converts a float to Fixed, rounding to the nearest 1/256.
func FixedFromFloat(f float64) Fixed {
	return Fixed(math.Round(f * 256))
}

// Float64 returns the value as a float.
func (f Fixed) Float64() float64 {
	return float64(f) / 256
}

// Int returns the integer part, rounding toward negative infinity.
func (f Fixed) Int() int32 {
	return int32(f) >> 8
}

func (f Fixed) String() string {
	return strconv.FormatFloat(f.Float64(), 'f', -1, 64)
}
