package resp

import (
	"errors"
	"io"
)

const readChunk = 16 * 1024

// Decoder reads RESP values from a stream.
// It accumulates input in its own buffer and runs Decode over it, so a frame
// split across several reads is parsed once all of it has arrived
type Decoder struct {
	rd    io.Reader
	buf   []byte
	start int // first byte not yet consumed
	need  int // buffered bytes the pending frame is known to require
}

// NewDecoder initializes a Decoder over rd
func NewDecoder(rd io.Reader) *Decoder {
	return &Decoder{
		rd:  rd,
		buf: make([]byte, 0, readChunk),
	}
}

// Read returns the next value from the stream.
// io.EOF is returned only on a clean frame boundary; a stream that stops inside a
// frame yields io.ErrUnexpectedEOF
func (d *Decoder) Read() (Value, error) {
	for {
		// a large bulk arrives over many reads; parse again only once its payload is in
		if d.start < len(d.buf) && d.Buffered() >= d.need {
			v, n, err := decode(d.buf[d.start:], 0)
			if err == nil {
				d.start += n
				d.need = 0
				return v, nil
			}

			if !errors.Is(err, ErrIncomplete) {
				return Value{}, err
			}
			d.need = n
		}

		if err := d.fill(); err != nil {
			if errors.Is(err, io.EOF) && d.Buffered() > 0 {
				return Value{}, io.ErrUnexpectedEOF
			}
			return Value{}, err
		}
	}
}

// ReadCommand reads the next value and converts it to a Command
func (d *Decoder) ReadCommand() (Command, error) {
	v, err := d.Read()
	if err != nil {
		return Command{}, err
	}

	return CommandFromValue(v)
}

// Buffered returns the number of bytes read from the stream but not consumed yet
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.start
}

// fill moves the unconsumed tail to the front of the buffer and reads more input
func (d *Decoder) fill() error {
	if d.start > 0 {
		n := copy(d.buf, d.buf[d.start:])
		d.buf = d.buf[:n]
		d.start = 0
	}

	if cap(d.buf)-len(d.buf) < readChunk {
		grown := make([]byte, len(d.buf), 2*cap(d.buf)+readChunk)
		copy(grown, d.buf)
		d.buf = grown
	}

	n, err := d.rd.Read(d.buf[len(d.buf):cap(d.buf)])
	d.buf = d.buf[:len(d.buf)+n]
	if n > 0 {
		return nil
	}

	return err
}
