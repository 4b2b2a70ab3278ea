package resp

// Reader is implemented by sources of RESP values
type Reader interface {
	Read() (Value, error)
}

// Writer is implemented by sinks of RESP values
type Writer interface {
	Write(v Value) error
	Flush() error
}

var (
	_ Reader = (*Decoder)(nil)
	_ Writer = (*Encoder)(nil)
)
