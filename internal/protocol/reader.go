package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrOutOfBounds is returned when a read would cross the end of the buffer.
var ErrOutOfBounds = errors.New("read out of bounds")

// Reader reads little-endian fields at absolute offsets of a bounded buffer.
// Every read is checked; nothing wraps or panics on hostile offsets.
type Reader struct {
	data []byte
}

// NewReader creates a Reader over data.
func NewReader(data []byte) Reader {
	return Reader{data: data}
}

// Len returns the number of readable bytes.
func (r Reader) Len() int {
	return len(r.data)
}

func (r Reader) check(off, n int) error {
	if off < 0 || n < 0 || off > len(r.data)-n {
		return fmt.Errorf("%w: %d bytes at %d (len=%d)", ErrOutOfBounds, n, off, len(r.data))
	}
	return nil
}

// Uint8 reads one byte at off.
func (r Reader) Uint8(off int) (uint8, error) {
	if err := r.check(off, 1); err != nil {
		return 0, err
	}
	return r.data[off], nil
}

// Uint16 reads a u16 LE at off.
func (r Reader) Uint16(off int) (uint16, error) {
	if err := r.check(off, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(r.data[off:]), nil
}

// Uint32 reads a u32 LE at off.
func (r Reader) Uint32(off int) (uint32, error) {
	if err := r.check(off, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(r.data[off:]), nil
}

// Uint64 reads a u64 LE at off.
func (r Reader) Uint64(off int) (uint64, error) {
	if err := r.check(off, 8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(r.data[off:]), nil
}

// Uint reads an unsigned LE integer of the given width (1, 2, 4 or 8 bytes).
func (r Reader) Uint(off, width int) (uint64, error) {
	switch width {
	case 1:
		v, err := r.Uint8(off)
		return uint64(v), err
	case 2:
		v, err := r.Uint16(off)
		return uint64(v), err
	case 4:
		v, err := r.Uint32(off)
		return uint64(v), err
	case 8:
		return r.Uint64(off)
	default:
		return 0, fmt.Errorf("unsupported field width %d", width)
	}
}

// Slice returns data[off:off+n] without copying.
func (r Reader) Slice(off, n int) ([]byte, error) {
	if err := r.check(off, n); err != nil {
		return nil, err
	}
	return r.data[off : off+n], nil
}
