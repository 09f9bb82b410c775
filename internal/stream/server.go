//go:build linux

package stream

import (
	"fmt"
	"sync"

	"echomesh/internal/reactor"
)

// Server binds an Acceptor to the main reactor and hands each accepted
// connection off to the next worker in a Pool, round-robin (§4.7). It owns
// the authoritative connection map, mutated only from the main reactor's
// thread via connection open/close callbacks that route back through it.
type Server struct {
	mainLoop *reactor.Loop
	pool     *reactor.Pool
	acceptor *Acceptor

	name     string
	nextConn int

	mu    sync.Mutex
	conns map[string]*Connection

	connectionCB ConnectionCallback
	messageCB    MessageCallback
}

// NewServer builds an Acceptor bound to addr on mainLoop. pool supplies the
// worker reactors new connections are dispatched to; a nil/empty pool means
// every connection stays on mainLoop (single-reactor mode, fine for tests
// and small deployments per §5).
func NewServer(mainLoop *reactor.Loop, pool *reactor.Pool, name, addr string) (*Server, error) {
	a, err := NewAcceptor(mainLoop, addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		mainLoop: mainLoop,
		pool:     pool,
		acceptor: a,
		name:     name,
		conns:    make(map[string]*Connection),
	}
	a.SetNewConnectionCallback(s.newConnection)
	return s, nil
}

func (s *Server) SetConnectionCallback(cb ConnectionCallback) { s.connectionCB = cb }
func (s *Server) SetMessageCallback(cb MessageCallback)       { s.messageCB = cb }

// Start enables accepting. Must be called on, or it posts itself to,
// mainLoop.
func (s *Server) Start() {
	s.mainLoop.RunInLoop(s.acceptor.Listen)
}

// ListenAddr returns the address the kernel actually bound to, useful when
// addr passed an ephemeral port.
func (s *Server) ListenAddr() (string, error) {
	return localAddrString(s.acceptor.ListenFd())
}

// newConnection runs on the main reactor (it is the Acceptor's callback).
// It builds the Connection object and hands the OS-thread transition off to
// the assigned worker loop via RunInLoop so ConnectEstablished always runs
// on the connection's owning thread, never the accept thread.
func (s *Server) newConnection(fd int, peerAddr string) {
	loop := s.mainLoop
	if s.pool != nil {
		if l := s.pool.NextLoop(); l != nil {
			loop = l
		}
	}

	s.nextConn++
	connName := fmt.Sprintf("%s-%d", s.name, s.nextConn)

	local, err := localAddrString(fd)
	if err != nil {
		local = ""
	}

	conn := NewConnection(loop, connName, fd, local, peerAddr)
	conn.SetConnectionCallback(s.connectionCB)
	conn.SetMessageCallback(s.messageCB)
	conn.SetCloseCallback(s.removeConnection)

	s.mu.Lock()
	s.conns[connName] = conn
	s.mu.Unlock()

	loop.RunInLoop(conn.ConnectEstablished)
}

// removeConnection is a Connection's CloseCallback and runs on that
// connection's owning loop (handleClose's caller). The map entry is removed
// on the main reactor, which then posts the final teardown step back to the
// owning loop.
func (s *Server) removeConnection(conn *Connection) {
	s.mainLoop.RunInLoop(func() {
		s.mu.Lock()
		delete(s.conns, conn.Name())
		s.mu.Unlock()
		conn.Loop().QueueInLoop(conn.ConnectDestroyed)
	})
}

// Connections returns a point-in-time snapshot of live connections, safe to
// call from any goroutine.
func (s *Server) Connections() []*Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out
}

func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Lookup returns the connection registered under name, if still live.
func (s *Server) Lookup(name string) (*Connection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[name]
	return c, ok
}

// Stop closes the listening socket. In-flight connections are left to drain
// naturally; callers that want a hard stop should Shutdown each connection
// first.
func (s *Server) Stop() {
	s.mainLoop.RunInLoop(func() {
		s.acceptor.Close()
	})
}
