package multi

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/italolelis/transferkit/internal/logctx"
	"github.com/italolelis/transferkit/internal/option"
)

// Socket identifies a connection opened by a multi handle.
type Socket int

// SocketTimeout is passed to SocketAction when a timeout, not a socket event, fired.
const SocketTimeout Socket = -1

// Event bits accepted by SocketAction.
const (
	CSelectIn  = 1 << 0
	CSelectOut = 1 << 1
	CSelectErr = 1 << 2
)

// SocketStats counts the connections a multi handle opened.
type SocketStats struct {
	Open    int
	Created int64
	Closed  int64
}

type socketEntry struct {
	remote  string
	data    any
	created time.Time
}

// sockets tracks every connection dialed through the multi handle transport.
type sockets struct {
	mu     sync.Mutex
	next   Socket
	open   map[Socket]*socketEntry
	stats  SocketStats
	notify func(sock Socket, what option.PollEvent, data any)
}

func newSockets(notify func(Socket, option.PollEvent, any)) *sockets {
	return &sockets{
		next:   1,
		open:   make(map[Socket]*socketEntry),
		notify: notify,
	}
}

// wrap returns a DialContext that registers every connection it opens.
func (s *sockets) wrap(dial func(ctx context.Context, network, addr string) (net.Conn, error)) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := dial(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		sock := s.register(conn.RemoteAddr().String())
		logctx.LoggerFromContext(ctx).Debug("socket opened", "socket", int(sock), "remote", addr)

		return &trackedConn{Conn: conn, sock: sock, table: s}, nil
	}
}

func (s *sockets) register(remote string) Socket {
	s.mu.Lock()
	sock := s.next
	s.next++
	s.open[sock] = &socketEntry{remote: remote, created: time.Now()}
	s.stats.Created++
	s.stats.Open = len(s.open)
	s.mu.Unlock()

	s.notify(sock, option.PollInOut, nil)

	return sock
}

func (s *sockets) unregister(sock Socket) {
	s.mu.Lock()
	e, ok := s.open[sock]
	if ok {
		delete(s.open, sock)
		s.stats.Closed++
		s.stats.Open = len(s.open)
	}
	s.mu.Unlock()

	if !ok {
		return
	}

	slog.Debug("socket closed", "socket", int(sock), "remote", e.remote, "lifetime", time.Since(e.created))
	s.notify(sock, option.PollRemove, e.data)
}

func (s *sockets) known(sock Socket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.open[sock]

	return ok
}

func (s *sockets) assign(sock Socket, data any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.open[sock]
	if ok {
		e.data = data
	}

	return ok
}

func (s *sockets) snapshot() []Socket {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Socket, 0, len(s.open))
	for sock := range s.open {
		out = append(out, sock)
	}

	return out
}

func (s *sockets) Stats() SocketStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stats
}

type trackedConn struct {
	net.Conn

	sock  Socket
	table *sockets
	once  sync.Once
}

func (c *trackedConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(func() { c.table.unregister(c.sock) })

	return err
}

// FDSet is a set of sockets, filled by Multi.FDSet.
type FDSet map[Socket]struct{}

func (s FDSet) Set(sock Socket) {
	s[sock] = struct{}{}
}

func (s FDSet) IsSet(sock Socket) bool {
	_, ok := s[sock]
	return ok
}

func (s FDSet) Clear() {
	clear(s)
}
