package transport

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/haasonsaas/ruster/pkg/models"
)

// maxLineBytes bounds one frame; commands carry tool arguments and skill
// bodies never cross the wire, so this comfortably covers legitimate
// traffic while still rejecting a runaway client.
const maxLineBytes = 1 << 20

// Server binds the UNIX domain socket and hands each connection to the
// Router, per spec.md §4.1 and §6.
type Server struct {
	socketPath string
	socketMode os.FileMode
	router     *Router
	sink       *Sink
	logger     *slog.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewServer builds a Server. Listen binds the socket; call Serve to accept.
func NewServer(socketPath string, socketMode os.FileMode, router *Router, sink *Sink) *Server {
	return &Server{
		socketPath: socketPath,
		socketMode: socketMode,
		router:     router,
		sink:       sink,
		logger:     slog.Default().With("component", "transport"),
	}
}

// Listen binds the UNIX socket, removing a stale path left by an unclean
// shutdown first (spec.md says nothing here; the teacher's lifecycle
// pattern is bind-or-fail at startup, so a leftover socket file must not
// block a restart).
func (s *Server) Listen() error {
	_ = os.Remove(s.socketPath)
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return err
	}
	if err := os.Chmod(s.socketPath, s.socketMode); err != nil {
		ln.Close()
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// Serve accepts connections until ctx is cancelled or the listener closes.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		if s.listener != nil {
			s.listener.Close()
		}
		s.mu.Unlock()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.handleConn(ctx, conn)
	}
}

// Close removes the socket file, releasing it for the next startup.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		s.listener.Close()
	}
	return os.Remove(s.socketPath)
}

// connection wraps one accepted net.Conn with a serialized writer so
// concurrently emitted events (from the reader goroutine's direct replies
// and from asynchronous session.send streaming) never interleave partial
// lines (spec.md §5: "the Event Sink preserves per-subscriber ordering").
type connection struct {
	conn    net.Conn
	writeMu sync.Mutex
	logger  *slog.Logger
}

// writeEvent implements connWriter.
func (c *connection) writeEvent(event models.Event) {
	data, err := marshalEvent(event)
	if err != nil {
		c.logger.Error("marshal event failed", "error", err)
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(data); err != nil {
		c.logger.Debug("write event failed", "error", err)
	}
}

func (s *Server) handleConn(ctx context.Context, netConn net.Conn) {
	conn := &connection{conn: netConn, logger: s.logger}
	defer func() {
		s.sink.Unsubscribe(conn)
		netConn.Close()
	}()

	scanner := bufio.NewScanner(netConn)
	scanner.Buffer(make([]byte, 4096), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		cp := append([]byte(nil), line...)
		s.router.Handle(ctx, conn, cp)
	}
}
