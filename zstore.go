package zstore

import "errors"

var magic = []byte{82, 101, 11, 87, 206, 143, 58, 241}

const (
	blockNoCompression     = 0
	blockSnappyCompression = 1
)

// ErrNotFound is returned by lookups when a key cannot be found.
var ErrNotFound = errors.New("zstore: not found")

// ErrCorrupt is returned when a table file or block cannot be decoded.
// Errors wrapping it carry detail about the failed decode step.
var ErrCorrupt = errors.New("zstore: corrupt table")

var (
	errClosed   = errors.New("zstore: is closed")
	errReleased = errors.New("zstore: cursor was released")
)

// Compression is the compression codec
type Compression byte

func (c Compression) isValid() bool {
	return c >= SnappyCompression && c < unknownCompression
}

// Supported compression codecs
const (
	SnappyCompression Compression = iota
	NoCompression
	unknownCompression
)

// Compare is a total order over byte sequences. It returns a negative
// number, zero, or a positive number if a is less than, equal to, or
// greater than b. Implementations must be deterministic.
type Compare func(a, b []byte) int
