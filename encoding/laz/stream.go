// Package laz implements the compressed point codec and the byte stream
// beneath it.  The codec keeps the layout strategy of the LAZ family:
// it is configured with the schema's dimension-type sequence and splits
// the record stream into per-dimension byte planes before the entropy
// stage, which is DEFLATE.
package laz

import (
	"fmt"
	"io"

	"github.com/grailbio/base/errors"
)

// Stream is a random-append byte sink and positional byte source.  Puts
// append at the end; gets read sequentially from a cursor starting at
// zero.  The stream makes no framing decisions; callers prepend their
// own size headers.
//
// Stream also implements io.Writer, io.Reader, and io.ByteReader so the
// entropy coder can sit directly on it.
type Stream struct {
	buf []byte
	pos int
}

// NewStream returns an empty stream.
func NewStream() *Stream { return &Stream{} }

// NewStreamBytes returns a stream whose initial contents are data, with
// the read cursor at zero.  The stream takes ownership of data; it is
// not copied.
func NewStreamBytes(data []byte) *Stream { return &Stream{buf: data} }

// PutByte appends one byte.
func (s *Stream) PutByte(b byte) { s.buf = append(s.buf, b) }

// PutBytes appends p.
func (s *Stream) PutBytes(p []byte) { s.buf = append(s.buf, p...) }

// GetByte reads the next byte, failing when the stream is exhausted.
func (s *Stream) GetByte() (byte, error) {
	if s.pos >= len(s.buf) {
		return 0, errors.E(errors.Invalid, "laz: short read: stream exhausted")
	}
	b := s.buf[s.pos]
	s.pos++
	return b, nil
}

// GetBytes reads the next n bytes, failing when fewer remain.  The
// returned slice aliases the stream's buffer.
func (s *Stream) GetBytes(n int) ([]byte, error) {
	if s.pos+n > len(s.buf) {
		return nil, errors.E(errors.Invalid,
			fmt.Sprintf("laz: short read: %d bytes requested, %d remain", n, len(s.buf)-s.pos))
	}
	p := s.buf[s.pos : s.pos+n]
	s.pos += n
	return p, nil
}

// Data exposes the underlying buffer without copying.
func (s *Stream) Data() []byte { return s.buf }

// Len returns the total number of buffered bytes.
func (s *Stream) Len() int { return len(s.buf) }

// Write implements io.Writer; it appends p.
func (s *Stream) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)
	return len(p), nil
}

// Read implements io.Reader over the read cursor.
func (s *Stream) Read(p []byte) (int, error) {
	if s.pos >= len(s.buf) {
		return 0, io.EOF
	}
	n := copy(p, s.buf[s.pos:])
	s.pos += n
	return n, nil
}

// ReadByte implements io.ByteReader over the read cursor.
func (s *Stream) ReadByte() (byte, error) {
	if s.pos >= len(s.buf) {
		return 0, io.EOF
	}
	b := s.buf[s.pos]
	s.pos++
	return b, nil
}
