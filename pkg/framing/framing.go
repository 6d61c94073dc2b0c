// Package framing implements the length-prefixed JSON message protocol
// used over the dispatch channel's TLS connection: a 4-byte big-endian
// length prefix followed by a JSON body.
package framing

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxFrameSize bounds the length prefix to guard against a misbehaving or
// hostile peer requesting an unbounded allocation.
const MaxFrameSize = 1 << 20 // 1 MiB

// ErrFrameTooLarge is returned by Receive when a peer announces a frame
// length over MaxFrameSize.
type ErrFrameTooLarge struct{ Size uint32 }

func (e ErrFrameTooLarge) Error() string {
	return fmt.Sprintf("framing: frame size %d exceeds max %d", e.Size, MaxFrameSize)
}

// Conn wraps an underlying connection (normally a *tls.Conn) with
// Send/Receive for framed JSON messages. A Conn is not safe for
// concurrent use by multiple goroutines on the same direction; the
// dispatcher serializes reads and writes per connection.
type Conn struct {
	rw io.ReadWriter
}

func New(rw io.ReadWriter) *Conn {
	return &Conn{rw: rw}
}

// Send encodes v as JSON and writes it as one length-prefixed frame.
func (c *Conn) Send(v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("framing: marshal: %w", err)
	}
	if len(body) > MaxFrameSize {
		return ErrFrameTooLarge{Size: uint32(len(body))}
	}

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(body)))
	if _, err := c.rw.Write(header); err != nil {
		return fmt.Errorf("framing: write header: %w", err)
	}
	if _, err := c.rw.Write(body); err != nil {
		return fmt.Errorf("framing: write body: %w", err)
	}
	return nil
}

// Receive reads one length-prefixed frame and unmarshals its JSON body
// into v. It returns io.EOF, unwrapped, when the peer closed the
// connection cleanly before sending any bytes of the next frame — the
// signal the dispatcher uses to distinguish a graceful disconnect from a
// protocol error.
func (c *Conn) Receive(v any) error {
	header := make([]byte, 4)
	if err := readFull(c.rw, header); err != nil {
		return err
	}
	size := binary.BigEndian.Uint32(header)
	if size > MaxFrameSize {
		return ErrFrameTooLarge{Size: size}
	}

	body := make([]byte, size)
	if err := readFull(c.rw, body); err != nil {
		if err == io.EOF {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("framing: unmarshal: %w", err)
	}
	return nil
}

// readFull reads exactly len(buf) bytes, looping over short reads the way
// a TCP/TLS stream requires. Returns io.EOF only when zero bytes were
// read before the peer closed, and io.ErrUnexpectedEOF for a close after
// a partial read.
func readFull(r io.Reader, buf []byte) error {
	read := 0
	for read < len(buf) {
		n, err := r.Read(buf[read:])
		read += n
		if err != nil {
			if err == io.EOF && read == 0 {
				return io.EOF
			}
			if err == io.EOF {
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}
	return nil
}
