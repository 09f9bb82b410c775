package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"time"

	"echomesh/internal/admin"
	"echomesh/internal/dispatch"
	"echomesh/internal/handlers"
	"echomesh/internal/protocol"
	"echomesh/internal/reactor"
	"echomesh/internal/registry"
	"echomesh/internal/stream"
	"echomesh/internal/voice"
)

// Config bundles every startup parameter the relay needs. See cli.go for
// how these are populated from flags.
type Config struct {
	StreamAddr   string
	DatagramAddr string
	AdminAddr    string
	Workers      int
	ReusePort    bool
	Verbose      bool
	AdminTLS     bool
	CertValidity time.Duration
}

// Server wires every core component together: the reactor pool, the
// acceptor-backed stream server, the datagram relay, the registries, the
// dispatcher and its handlers, and (optionally) the admin HTTP surface.
// Nothing here is itself a reactor or owns an fd directly; it only
// constructs and starts the pieces that do.
type Server struct {
	cfg Config

	mainLoop *reactor.Loop
	pool     *reactor.Pool

	registries *registry.Registries
	dispatcher *dispatch.Dispatcher
	codec      protocol.Codec

	streamSrv *stream.Server
	relay     *voice.Relay
	adminSrv  *admin.Server
}

// NewServer constructs every component but does not start any I/O; call
// Start to begin accepting connections and packets.
func NewServer(cfg Config) (*Server, error) {
	reactor.SetVerboseTasks(cfg.Verbose)

	mainLoop, err := reactor.NewLoop("main")
	if err != nil {
		return nil, fmt.Errorf("new main loop: %w", err)
	}

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	pool, err := reactor.StartPool(workers, "worker")
	if err != nil {
		return nil, fmt.Errorf("start worker pool: %w", err)
	}

	reg := registry.NewRegistries()
	d := dispatch.New()
	codec := protocol.JSONCodec{}
	handlers.Set(d, reg, codec)

	streamSrv, err := stream.NewServer(mainLoop, pool, "echomesh", cfg.StreamAddr)
	if err != nil {
		return nil, fmt.Errorf("new stream server: %w", err)
	}
	streamSrv.SetMessageCallback(func(conn *stream.Connection, frame []byte) {
		env, err := codec.Decode(frame)
		if err != nil {
			log.Printf("[server] decode failed, dropping frame: %v", err)
			return
		}
		d.Dispatch(conn, env)
	})
	streamSrv.SetConnectionCallback(func(conn *stream.Connection) {
		if conn.State() == stream.StateDisconnected {
			if id := reg.Users.UserOf(conn); id != 0 {
				reg.Users.Logout(id)
			}
		}
	})

	datagramLoop, err := reactor.NewLoop("datagram")
	if err != nil {
		return nil, fmt.Errorf("new datagram loop: %w", err)
	}
	go datagramLoop.Run()
	relay, err := voice.NewRelay(datagramLoop, cfg.DatagramAddr, reg.Users, reg.Rooms)
	if err != nil {
		return nil, fmt.Errorf("new datagram relay: %w", err)
	}

	s := &Server{
		cfg:        cfg,
		mainLoop:   mainLoop,
		pool:       pool,
		registries: reg,
		dispatcher: d,
		codec:      codec,
		streamSrv:  streamSrv,
		relay:      relay,
	}

	if cfg.AdminAddr != "" {
		s.adminSrv = admin.New(reg, streamSrv, relay)
	}

	return s, nil
}

// Start begins accepting stream connections and datagram packets, and runs
// the main reactor loop. It blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context, adminTLS *tls.Config) error {
	s.streamSrv.Start()
	s.relay.Start()

	if s.adminSrv != nil {
		go func() {
			if err := s.adminSrv.Run(ctx, s.cfg.AdminAddr, adminTLS); err != nil {
				log.Printf("[admin] server error: %v", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		s.mainLoop.Quit()
	}()

	go s.mainLoop.Run()

	<-ctx.Done()
	s.pool.Stop()
	return nil
}

func (s *Server) StreamListenAddr() (string, error) { return s.streamSrv.ListenAddr() }
