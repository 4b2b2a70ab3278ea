package resp

import (
	"bufio"
	"io"
)

// Encoder handles the serialization of RESP Value objects into an output stream
type Encoder struct {
	writer  *bufio.Writer
	scratch []byte
}

// NewEncoder initializes an Encoder with a buffered writer
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		writer: bufio.NewWriter(w),
	}
}

// Write serializes a RESP Value into the buffer. Call Flush to send it
func (e *Encoder) Write(v Value) error {
	var err error

	e.scratch, err = AppendValue(e.scratch[:0], v)
	if err != nil {
		return err
	}

	_, err = e.writer.Write(e.scratch)
	return err
}

// Flush sends all buffered data to the underlying stream
func (e *Encoder) Flush() error {
	return e.writer.Flush()
}
