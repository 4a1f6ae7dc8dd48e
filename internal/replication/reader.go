package replication

import (
	"encoding/binary"
	"fmt"
	"time"
)

// postgresEpochMicros is the number of microseconds between the Unix epoch
// and the Postgres epoch (2000-01-01T00:00:00Z), used to translate the
// timestamps embedded in WAL and pgoutput messages.
const postgresEpochMicros = 946684800000000

// Reader is a positional cursor over an immutable byte slice. All integer
// reads are big-endian, matching the PostgreSQL wire format. Reader never
// copies the underlying slice; callers that need to retain a borrowed
// sub-slice past the reader's lifetime must copy it themselves.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for sequential reads starting at position 0.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Pos returns the current cursor position.
func (r *Reader) Pos() int { return r.pos }

// Len returns the total length of the wrapped buffer.
func (r *Reader) Len() int { return len(r.buf) }

// Remaining borrows the unread tail of the buffer without advancing the cursor.
func (r *Reader) Remaining() []byte {
	return r.buf[r.pos:]
}

func (r *Reader) require(op string, n int) error {
	if len(r.buf)-r.pos < n {
		return &OutOfBoundsError{Op: op, Want: n, Have: len(r.buf) - r.pos}
	}
	return nil
}

// ReadU8 reads one unsigned byte.
func (r *Reader) ReadU8() (uint8, error) {
	if err := r.require("readU8", 1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

// ReadU16 reads a big-endian uint16.
func (r *Reader) ReadU16() (uint16, error) {
	if err := r.require("readU16", 2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

// ReadI16 reads a big-endian int16.
func (r *Reader) ReadI16() (int16, error) {
	v, err := r.ReadU16()
	return int16(v), err
}

// ReadU32 reads a big-endian uint32.
func (r *Reader) ReadU32() (uint32, error) {
	if err := r.require("readU32", 4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

// ReadI32 reads a big-endian int32.
func (r *Reader) ReadI32() (int32, error) {
	v, err := r.ReadU32()
	return int32(v), err
}

// ReadU64 reads a big-endian uint64.
func (r *Reader) ReadU64() (uint64, error) {
	if err := r.require("readU64", 8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

// Read borrows the next n bytes without copying.
func (r *Reader) Read(n int) ([]byte, error) {
	if err := r.require("read", n); err != nil {
		return nil, err
	}
	v := r.buf[r.pos : r.pos+n]
	r.pos += n
	return v, nil
}

// ReadCString reads bytes up to (not including) the next NUL byte, consumes
// the terminator, and returns the decoded string.
func (r *Reader) ReadCString() (string, error) {
	end := -1
	for i := r.pos; i < len(r.buf); i++ {
		if r.buf[i] == 0 {
			end = i
			break
		}
	}
	if end == -1 {
		return "", &OutOfBoundsError{Op: "readCString", Want: 1, Have: 0}
	}
	s := string(r.buf[r.pos:end])
	r.pos = end + 1
	return s, nil
}

// ReadLengthPrefixedString reads a 32-bit length followed by that many UTF-8 bytes.
func (r *Reader) ReadLengthPrefixedString() (string, error) {
	n, err := r.ReadI32()
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", newProtocolError("negative length-prefixed string length %d", n)
	}
	b, err := r.Read(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadLSN reads two big-endian uint32 halves and formats them as the
// canonical "H/L" textual LSN form: uppercase hex, no leading zero padding
// beyond one digit per half.
func (r *Reader) ReadLSN() (string, error) {
	hi, err := r.ReadU32()
	if err != nil {
		return "", err
	}
	lo, err := r.ReadU32()
	if err != nil {
		return "", err
	}
	return FormatLSN(hi, lo), nil
}

// ReadTimestamp reads a uint64 of microseconds since the Postgres epoch and
// returns the corresponding wall-clock time.
func (r *Reader) ReadTimestamp() (time.Time, error) {
	micros, err := r.ReadU64()
	if err != nil {
		return time.Time{}, err
	}
	unixMicros := int64(micros) + postgresEpochMicros
	return time.UnixMicro(unixMicros).UTC(), nil
}

// FormatLSN renders an (hi, lo) pair as the canonical "H/L" textual form.
func FormatLSN(hi, lo uint32) string {
	return fmt.Sprintf("%X/%X", hi, lo)
}
