// Package extract converts fixed-width windows of a packet buffer into byte
// arrays for little-endian reinterpretation by the caller.
package extract

import (
	"errors"
	"fmt"
)

// ErrLengthMismatch is matched by every error returned from this package.
var ErrLengthMismatch = errors.New("slice length does not match field width")

// LengthError reports a window whose length differs from the requested width.
type LengthError struct {
	Want int
	Got  int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("slice with incorrect length, expected %d bit: got %d bytes", e.Want*8, e.Got)
}

// Is lets errors.Is(err, ErrLengthMismatch) match any *LengthError.
func (e *LengthError) Is(target error) bool {
	return target == ErrLengthMismatch
}

func check(b []byte, width int) error {
	if len(b) != width {
		return &LengthError{Want: width, Got: len(b)}
	}
	return nil
}

// Get8 returns b as a one byte array.
func Get8(b []byte) ([1]byte, error) {
	var out [1]byte
	if err := check(b, 1); err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

// Get16 returns b as a two byte array.
func Get16(b []byte) ([2]byte, error) {
	var out [2]byte
	if err := check(b, 2); err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

// Get32 returns b as a four byte array.
func Get32(b []byte) ([4]byte, error) {
	var out [4]byte
	if err := check(b, 4); err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

// Window returns buf[offset:offset+width], clamped to the end of buf. A window
// that runs past the end comes back short so that the GetN call rejects it
// instead of the slice expression panicking.
func Window(buf []byte, offset, width int) []byte {
	if offset < 0 || offset > len(buf) {
		return nil
	}
	end := offset + width
	if end > len(buf) {
		end = len(buf)
	}
	return buf[offset:end]
}
