package parse

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/banshee-data/forza-telemetry/internal/forza/extract"
)

// DecodeError identifies the first field that could not be read. It unwraps
// to the extractor's error, so errors.Is(err, extract.ErrLengthMismatch)
// holds for every short buffer.
type DecodeError struct {
	Field  string
	Offset int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s at offset %d: %v", e.Field, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode maps the first MESSAGE_SIZE bytes of buf onto a Snapshot. Bytes past
// MESSAGE_SIZE are ignored. A shorter buffer fails on the first field that
// runs past its end and no snapshot is returned.
func Decode(buf []byte) (Snapshot, error) {
	var s Snapshot
	for _, f := range layout {
		if err := decodeField(&s, f, extract.Window(buf, f.Offset, f.Width)); err != nil {
			return Snapshot{}, &DecodeError{Field: f.Name, Offset: f.Offset, Err: err}
		}
	}
	return s, nil
}

func decodeField(s *Snapshot, f Field, b []byte) error {
	switch p := f.ref(s).(type) {
	case *int32:
		a, err := extract.Get32(b)
		if err != nil {
			return err
		}
		*p = int32(binary.LittleEndian.Uint32(a[:]))
	case *uint32:
		a, err := extract.Get32(b)
		if err != nil {
			return err
		}
		*p = binary.LittleEndian.Uint32(a[:])
	case *float32:
		a, err := extract.Get32(b)
		if err != nil {
			return err
		}
		*p = math.Float32frombits(binary.LittleEndian.Uint32(a[:]))
	case *uint16:
		a, err := extract.Get16(b)
		if err != nil {
			return err
		}
		*p = binary.LittleEndian.Uint16(a[:])
	case *uint8:
		a, err := extract.Get8(b)
		if err != nil {
			return err
		}
		*p = a[0]
	case *int8:
		a, err := extract.Get8(b)
		if err != nil {
			return err
		}
		*p = int8(a[0])
	default:
		return fmt.Errorf("field %s has no snapshot binding", f.Name)
	}
	return nil
}

// Encode writes s into a new MESSAGE_SIZE buffer at the layout offsets. The
// reserved span is left zero.
func Encode(s Snapshot) []byte {
	buf := make([]byte, MESSAGE_SIZE)
	for _, f := range layout {
		b := buf[f.Offset:f.End()]
		switch p := f.ref(&s).(type) {
		case *int32:
			binary.LittleEndian.PutUint32(b, uint32(*p))
		case *uint32:
			binary.LittleEndian.PutUint32(b, *p)
		case *float32:
			binary.LittleEndian.PutUint32(b, math.Float32bits(*p))
		case *uint16:
			binary.LittleEndian.PutUint16(b, *p)
		case *uint8:
			b[0] = *p
		case *int8:
			b[0] = uint8(*p)
		}
	}
	return buf
}
