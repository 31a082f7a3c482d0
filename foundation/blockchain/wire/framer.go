package wire

import (
	"bytes"
	"errors"
)

// MaxRecordSize bounds a single record. A full Blocks response fits well
// within it.
const MaxRecordSize = 64 << 20

// ErrRecordTooLarge is returned when a peer sends more than MaxRecordSize
// bytes without a newline. The connection should be closed.
var ErrRecordTooLarge = errors.New("record too large")

// Framer splits a byte stream into newline terminated records. Bytes of a
// partial record stay buffered until the rest arrives. Buffered bytes are
// searched for a newline only once.
type Framer struct {
	buf     []byte
	scanned int
	max     int
}

// NewFramer constructs a Framer bounded by MaxRecordSize.
func NewFramer() *Framer {
	return &Framer{max: MaxRecordSize}
}

// Feed appends the chunk and returns every complete record in arrival
// order. Blank lines are skipped.
func (f *Framer) Feed(chunk []byte) ([][]byte, error) {
	f.buf = append(f.buf, chunk...)

	var records [][]byte
	var consumed bool
	for {
		i := bytes.IndexByte(f.buf[f.scanned:], '\n')
		if i < 0 {
			f.scanned = len(f.buf)
			break
		}
		i += f.scanned
		f.scanned = 0

		record := bytes.TrimSpace(f.buf[:i])
		if len(record) > 0 {
			records = append(records, bytes.Clone(record))
		}
		f.buf = f.buf[i+1:]
		consumed = true
	}

	if len(f.buf) > f.max {
		f.buf = nil
		f.scanned = 0
		return records, ErrRecordTooLarge
	}

	// Move the partial record to the front so the backing array doesn't
	// grow without bound on a long lived connection.
	switch {
	case len(f.buf) == 0:
		f.buf = nil
	case consumed:
		f.buf = bytes.Clone(f.buf)
	}

	return records, nil
}

// Buffered returns the number of bytes held for a partial record.
func (f *Framer) Buffered() int {
	return len(f.buf)
}
