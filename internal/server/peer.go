package server

import (
	"net"
	"sync"
	"time"

	"github.com/eternalApril/moonkv/internal/resp"
	"github.com/google/uuid"
)

// Peer represents a connected client.
// It wraps a network connection and provides synchronized methods for reading and writing RESP-encoded data
type Peer struct {
	id          uuid.UUID
	conn        net.Conn
	reader      *resp.Decoder
	writer      resp.Writer
	mu          sync.Mutex
	connectedAt time.Time
}

// NewPeer initializes a new client peer from a network connection
func NewPeer(conn net.Conn) *Peer {
	return &Peer{
		id:          uuid.New(),
		conn:        conn,
		reader:      resp.NewDecoder(conn),
		writer:      resp.NewEncoder(conn),
		connectedAt: time.Now(),
	}
}

// ID returns the unique identifier of the connection
func (p *Peer) ID() uuid.UUID {
	return p.id
}

// ConnectedAt returns the time the connection was accepted
func (p *Peer) ConnectedAt() time.Time {
	return p.connectedAt
}

// RemoteAddr returns the client address
func (p *Peer) RemoteAddr() string {
	return p.conn.RemoteAddr().String()
}

// Send encodes and buffers a RESP value for the client.
// This method is thread-safe and can be called from multiple goroutines
func (p *Peer) Send(v resp.Value) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writer.Write(v)
}

// ReadCommand reads and decodes the next command from the client's input stream
func (p *Peer) ReadCommand() (resp.Command, error) {
	return p.reader.ReadCommand()
}

// Close terminates the underlying network connection
func (p *Peer) Close() error {
	return p.conn.Close()
}

// Flush sends all buffered data to the client
func (p *Peer) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writer.Flush()
}

// InputBuffered returns the number of bytes that can be read from the current buffer
func (p *Peer) InputBuffered() int {
	return p.reader.Buffered()
}
