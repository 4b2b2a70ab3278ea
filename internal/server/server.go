package server

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eternalApril/moonkv/internal/config"
	"github.com/eternalApril/moonkv/internal/resp"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

// ShutdownTimeout bounds how long Serve waits for connections to finish after ctx is done
const ShutdownTimeout = 5 * time.Second

// Server accepts client connections and runs one goroutine per connection
type Server struct {
	engine     *Engine
	logger     *zap.Logger
	address    string
	maxClients int

	listener net.Listener
	clients  *xsync.MapOf[uuid.UUID, *Peer]
	active   atomic.Int64 // connections holding a slot, reserved before the handler starts
	wg       sync.WaitGroup
	closing  atomic.Bool
}

// NewServer creates a server for the engine. Call Listen and Serve, or ListenAndServe
func NewServer(engine *Engine, cfg config.ServerConfig, logger *zap.Logger) *Server {
	return &Server{
		engine:     engine,
		logger:     logger,
		address:    net.JoinHostPort(cfg.Host, cfg.Port),
		maxClients: cfg.MaxClients,
		clients:    xsync.NewMapOf[uuid.UUID, *Peer](),
	}
}

// Listen binds the listening socket
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	s.listener = listener
	s.logger.Info("listening on", zap.String("address", listener.Addr().String()))
	return nil
}

// Addr returns the bound address, nil before Listen
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenAndServe binds and serves until ctx is done
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve accepts connections until ctx is done, then stops reading from clients,
// lets them flush pending replies and waits for them up to ShutdownTimeout
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("server: Serve called before Listen")
	}

	go func() {
		<-ctx.Done()
		s.closing.Store(true)
		s.listener.Close() //nolint:errcheck
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closing.Load() || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("Accept error", zap.Error(err))
			continue
		}

		if n := s.active.Add(1); s.maxClients > 0 && n > int64(s.maxClients) {
			s.active.Add(-1)
			s.reject(conn)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.active.Add(-1)
			s.handleConnection(conn)
		}()
	}

	s.logger.Info("Shutting down...", zap.Int("clients", s.clients.Size()))
	return s.drain()
}

// drain wakes up every connection blocked on read and waits for the handlers to return
func (s *Server) drain() error {
	s.clients.Range(func(_ uuid.UUID, p *Peer) bool {
		p.conn.SetReadDeadline(time.Now()) //nolint:errcheck
		return true
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("All connections closed gracefully")
	case <-time.After(ShutdownTimeout):
		s.logger.Warn("Shutdown timed out, forcing exit", zap.Duration("timeout", ShutdownTimeout))
		s.clients.Range(func(_ uuid.UUID, p *Peer) bool {
			p.Close() //nolint:errcheck
			return true
		})
	}

	return nil
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	return s.clients.Size()
}

func (s *Server) reject(conn net.Conn) {
	s.logger.Warn("max number of clients reached, rejecting connection",
		zap.String("addr", conn.RemoteAddr().String()),
		zap.Int("max_clients", s.maxClients),
	)

	encoder := resp.NewEncoder(conn)
	_ = encoder.Write(resp.MakeError("ERR max number of clients reached"))
	_ = encoder.Flush()
	_ = conn.Close()
}

// handleConnection handles a connection for a single user
func (s *Server) handleConnection(conn net.Conn) {
	peer := NewPeer(conn)
	log := s.logger.With(zap.String("peer", peer.ID().String()))

	s.clients.Store(peer.ID(), peer)
	s.engine.Metrics().ClientConnected()

	if log.Core().Enabled(zap.DebugLevel) {
		log.Debug("client connected", zap.String("addr", peer.RemoteAddr()))
	}

	defer func() {
		s.clients.Delete(peer.ID())
		s.engine.Metrics().ClientDisconnected()
		peer.Close() //nolint:errcheck
		// log connection close
		if log.Core().Enabled(zap.DebugLevel) {
			log.Debug("client disconnected",
				zap.String("addr", peer.RemoteAddr()),
				zap.Duration("connected_for", time.Since(peer.ConnectedAt())),
			)
		}
	}()

	for {
		cmd, err := peer.ReadCommand()
		if err != nil {
			s.readFailed(peer, log, err)
			return
		}

		result := s.engine.Dispatch(cmd)

		if err = peer.Send(result); err != nil {
			log.Error("error writing response", zap.Error(err))
			return
		}

		if cmd.Name == "QUIT" {
			peer.Flush() //nolint:errcheck
			return
		}

		// replies of a pipeline go out together, once the input buffer is drained
		if peer.InputBuffered() == 0 {
			if err := peer.Flush(); err != nil {
				return
			}
		}
	}
}

// readFailed reports a protocol error to the client before the connection closes
func (s *Server) readFailed(peer *Peer, log *zap.Logger, err error) {
	switch {
	case errors.Is(err, resp.ErrProtocol):
		detail := strings.TrimPrefix(err.Error(), resp.ErrProtocol.Error()+": ")
		log.Warn("protocol error", zap.String("detail", detail))

		if sendErr := peer.Send(resp.MakeError("ERR Protocol error: " + detail)); sendErr == nil {
			peer.Flush() //nolint:errcheck
		}

	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):

	case s.closing.Load():
		// read deadline set by drain, flush what is still buffered
		peer.Flush() //nolint:errcheck

	default:
		log.Warn("read command failed", zap.Error(err))
	}
}
