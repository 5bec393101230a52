// Copyright (C) 2025 Cloud System Implementation. All Rights Reserved.

// Package servertest provides an in-process implementation of the server
// side of the interactive protocol, for managing and testing clients.
package servertest

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/creachadair/taskgroup"
	"github.com/rs/zerolog"

	interactive "github.com/Cloud-System-Implementation/StreamingClientLibrary"
	"github.com/Cloud-System-Implementation/StreamingClientLibrary/transport"
)

// A Handler services one named method. It returns the result payload for
// the reply, or a ReplyError which is carried back in its place.
type Handler func(params interactive.Params) (interactive.Params, *interactive.ReplyError)

// A Server is a scriptable in-process protocol server. It performs the
// session handshake, answers reply-bearing methods with registered
// handlers, confirms readiness reports, and can push notifications to its
// connections. Methods with no registered handler are answered with an
// "unknown method" error.
//
// All the methods of a Server are safe for concurrent use.
type Server struct {
	log          zerolog.Logger
	hello        bool
	readyConfirm interactive.Params

	seq atomic.Uint32 // sequence positions stamped on outbound frames

	μ        sync.Mutex
	closed   bool
	handlers map[string]Handler
	conns    map[*conn]struct{}
	recv     []*interactive.Envelope
	nextID   uint32           // IDs assigned to server-pushed methods
	tasks    *taskgroup.Group // service routines started by Connect
}

// An Option adjusts the construction of a Server.
type Option func(*Server)

// WithLogger sets the logger for server diagnostics. The default discards
// all output.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithoutHello suppresses the hello notification normally pushed when a
// connection is accepted, leaving clients stalled in their handshake.
func WithoutHello() Option {
	return func(s *Server) { s.hello = false }
}

// WithReadyConfirm sets the payload of the onReady notification pushed
// when a client reports readiness. The default confirms with
// {"isReady": true}; a nil payload suppresses the notification.
func WithReadyConfirm(params interactive.Params) Option {
	return func(s *Server) { s.readyConfirm = params }
}

// New constructs a server with the given options.
func New(opts ...Option) *Server {
	s := &Server{
		log:          zerolog.Nop(),
		hello:        true,
		readyConfirm: interactive.Params{"isReady": true},
		handlers:     make(map[string]Handler),
		conns:        make(map[*conn]struct{}),
		tasks:        taskgroup.New(nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle registers h as the handler for the given method name, replacing
// any previous registration. It returns s to permit chaining.
func (s *Server) Handle(method string, h Handler) *Server {
	s.μ.Lock()
	defer s.μ.Unlock()
	s.handlers[method] = h
	return s
}

// Serve services one connection on tr until the client goes away or the
// server is closed. Most tests will prefer Connect or Dial, which call
// Serve in a background goroutine over an in-memory pipe.
func (s *Server) Serve(tr interactive.Transport) error {
	c := &conn{tr: tr}
	if !s.track(c) {
		tr.Close()
		return errors.New("server is closed")
	}
	defer s.untrack(c)
	defer tr.Close()

	if s.hello {
		if err := s.push1(c, "hello", nil); err != nil {
			return err
		}
	}
	for {
		frame, err := tr.Recv()
		if err != nil {
			return nil // the client went away
		}
		env, err := interactive.ParseEnvelope(frame)
		if err != nil {
			s.log.Debug().Err(err).Msg("dropping malformed frame")
			continue
		}
		s.record(env)
		if env.Type != interactive.EnvelopeMethod {
			continue // clients do not send replies in this protocol
		}
		if env.Discard {
			s.handleDiscard(c, env)
		} else {
			s.handleCall(c, env)
		}
	}
}

// Connect returns the client end of a new in-memory connection serviced by
// the server. After Close, the returned transport is already dead.
func (s *Server) Connect() interactive.Transport {
	p, q := transport.Pipe()

	// Each pipe half closes only its own direction, but a socket takes
	// both down at once. Tie the halves together so closing either end
	// unblocks both.
	cli := duplex{Transport: p, peer: q}
	srv := duplex{Transport: q, peer: p}

	s.μ.Lock()
	closed := s.closed
	s.μ.Unlock()
	if closed {
		cli.Close()
		return cli
	}
	s.tasks.Go(func() error { return s.Serve(srv) })
	return cli
}

// A duplex is a pipe end whose Close also closes the opposite end.
type duplex struct {
	interactive.Transport
	peer interactive.Transport
}

func (d duplex) Close() error {
	d.peer.Close()
	return d.Transport.Close()
}

// Dial returns the client end of a new in-memory connection, ignoring the
// endpoint. It satisfies [interactive.DialFunc] so a client under test can
// be pointed at the server directly:
//
//	c := interactive.New(interactive.WithDial(srv.Dial))
func (s *Server) Dial(ctx context.Context, ep interactive.Endpoint) (interactive.Transport, error) {
	return s.Connect(), nil
}

// Handler returns an http.Handler that upgrades each request to a
// WebSocket connection serviced by the server, for tests that need to
// exercise a real socket.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tr, err := transport.Upgrade(w, r)
		if err != nil {
			return // Upgrade has already written an HTTP error
		}
		s.Serve(tr)
	})
}

// Push sends a notification with the given method name and payload to
// every live connection.
func (s *Server) Push(method string, params interactive.Params) error {
	s.μ.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.μ.Unlock()

	var firstErr error
	for _, c := range conns {
		if err := s.push1(c, method, params); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Received reports every envelope the server has received, in order of
// arrival across all connections.
func (s *Server) Received() []*interactive.Envelope {
	s.μ.Lock()
	defer s.μ.Unlock()
	out := make([]*interactive.Envelope, len(s.recv))
	copy(out, s.recv)
	return out
}

// Close closes every live connection and blocks until the service
// routines started by Connect have exited.
func (s *Server) Close() error {
	s.μ.Lock()
	s.closed = true
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.μ.Unlock()

	for _, c := range conns {
		c.tr.Close()
	}
	s.tasks.Wait()
	return nil
}

func (s *Server) track(c *conn) bool {
	s.μ.Lock()
	defer s.μ.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *conn) {
	s.μ.Lock()
	defer s.μ.Unlock()
	delete(s.conns, c)
}

func (s *Server) record(env *interactive.Envelope) {
	s.μ.Lock()
	defer s.μ.Unlock()
	s.recv = append(s.recv, env)
}

func (s *Server) handler(method string) Handler {
	s.μ.Lock()
	defer s.μ.Unlock()
	return s.handlers[method]
}

// handleDiscard consumes a method that expects no reply. A readiness
// report triggers the onReady confirmation; any registered handler for the
// method runs for its side effects with the result discarded.
func (s *Server) handleDiscard(c *conn, env *interactive.Envelope) {
	if h := s.handler(env.Method); h != nil {
		h(env.Params)
	}
	if env.Method == "ready" && env.Params.GetBool("isReady") {
		s.μ.Lock()
		confirm := s.readyConfirm
		s.μ.Unlock()
		if confirm != nil {
			s.push1(c, "onReady", confirm)
		}
	}
}

func (s *Server) handleCall(c *conn, env *interactive.Envelope) {
	h := s.handler(env.Method)
	if h == nil {
		s.reply(c, env.ID, nil, &interactive.ReplyError{Code: 4003, Message: "unknown method"})
		return
	}
	result, rerr := h(env.Params)
	if rerr != nil {
		s.reply(c, env.ID, nil, rerr)
		return
	}
	s.reply(c, env.ID, result, nil)
}

func (s *Server) reply(c *conn, id uint32, result interactive.Params, rerr *interactive.ReplyError) error {
	return c.send(&interactive.Envelope{
		Type: interactive.EnvelopeReply, ID: id, Seq: s.seq.Add(1),
		Err: rerr, Result: result,
	})
}

func (s *Server) push1(c *conn, method string, params interactive.Params) error {
	s.μ.Lock()
	s.nextID++
	id := s.nextID
	s.μ.Unlock()
	return c.send(&interactive.Envelope{
		Type: interactive.EnvelopeMethod, ID: id, Seq: s.seq.Add(1),
		Method: method, Params: params, Discard: true,
	})
}

// A conn is one live connection and the lock serializing its writes.
type conn struct {
	tr interactive.Transport

	μ sync.Mutex // held to send
}

func (c *conn) send(env *interactive.Envelope) error {
	frame, err := env.Encode()
	if err != nil {
		return err
	}
	c.μ.Lock()
	defer c.μ.Unlock()
	return c.tr.Send(frame)
}
