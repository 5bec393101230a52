// Copyright (C) 2025 Cloud System Implementation. All Rights Reserved.

package interactive

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/creachadair/taskgroup"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// A Transport is a duplex connection to a server that exchanges whole text
// frames. Implementations must be safe for concurrent use by one sender
// and one receiver.
type Transport interface {
	// Send transmits one frame to the server.
	Send(frame []byte) error

	// Recv blocks until the next frame arrives from the server and returns
	// it, or reports the error that ended the connection. After Recv
	// reports an error the connection is dead.
	Recv() ([]byte, error)

	// Close closes the connection, causing any blocked sends and receives
	// to terminate and report errors.
	Close() error
}

// An Endpoint carries the address and the connection-time parameters for
// one connection attempt. The parameters are presented when the socket is
// opened and are not renegotiable for the life of the connection; to
// change them, disconnect and dial anew.
type Endpoint struct {
	URL             string // socket URL, for example "wss://host/gameClient"
	Authorization   string // bearer credential presented at connection time
	ProtocolVersion string // wire protocol version identifier
	VersionID       string // identifier of the project version to serve
	ShareCode       string // optional share code granting version access
}

// A DialFunc opens a Transport to the given endpoint. The context governs
// only the dial itself.
type DialFunc func(ctx context.Context, ep Endpoint) (Transport, error)

// State identifies the connection lifecycle stage of a Client.
type State int

const (
	Disconnected  State = iota // no live connection
	Connecting                 // transport open, awaiting the server hello
	Connected                  // hello received, session established
	ReadyPending               // readiness reported, awaiting confirmation
	Authenticated              // readiness confirmed by the server
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case ReadyPending:
		return "ready-pending"
	case Authenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("STATE:%d", int(s))
	}
}

var (
	// ErrNotConnected is reported by operations that require a live
	// connection when the client does not have one.
	ErrNotConnected = errors.New("client is not connected")

	// ErrAlreadyConnected is reported by Connect when the client already
	// has a connection.
	ErrAlreadyConnected = errors.New("client is already connected")

	// ErrConnectionClosed is reported for operations that were interrupted
	// by loss of the underlying connection.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrNoDialer is reported by Connect on a client constructed without
	// a dialer.
	ErrNoDialer = errors.New("no dialer configured")
)

// A CallError is the concrete type of errors reported by SendAndListen.
// When the server answered the call with an error, Err is nil and Reply
// holds the reply envelope whose Err field carries the detail. Otherwise
// Err holds the transport, timeout, or cancellation cause.
type CallError struct {
	Err   error     // nil when the server answered with an error
	Reply *Envelope // set when the server answered with an error
}

// ServerError returns the server-reported error detail, or nil if the
// call failed before a reply arrived.
func (c *CallError) ServerError() *ReplyError {
	if c.Reply != nil {
		return c.Reply.Err
	}
	return nil
}

func (c *CallError) Error() string {
	if c.Err != nil {
		return c.Err.Error()
	}
	if re := c.ServerError(); re != nil {
		return "server error: " + re.Error()
	}
	return "call failed"
}

// Unwrap supports errors.Is and errors.As queries against the cause.
func (c *CallError) Unwrap() error {
	if c.Err != nil {
		return c.Err
	}
	if c.Reply != nil && c.Reply.Err != nil {
		return c.Reply.Err
	}
	return nil
}

// A pending is a channel that will receive the reply to an outbound call.
// It is closed without a value when the connection fails before a reply
// arrives.
type pending chan *Envelope

func (p pending) close() {
	if p != nil {
		close(p)
	}
}

func (p pending) deliver(env *Envelope) {
	if p != nil {
		p <- env // does not block: capacity 1, exactly one delivery
		close(p)
	}
}

// A Client speaks the interactive protocol over a single Transport. It
// multiplexes correlated request/reply calls and subscriber dispatch of
// server-pushed notifications on one connection.
//
// A Client is created unconnected with New. Connect dials and performs the
// session handshake, Ready reports readiness, Send and SendAndListen issue
// methods, and Subscribe registers notification handlers. All methods of a
// Client are safe for concurrent use.
//
// The client runs a single receive loop per connection. Replies resolve
// their pending calls; method frames are delivered synchronously, in
// registration order, to the subscribers of their name. Frames that do not
// parse are dropped with a log entry, and replies whose ID matches no
// pending call are discarded.
type Client struct {
	dial         DialFunc
	log          zerolog.Logger
	helloTimeout time.Duration
	readyTimeout time.Duration
	replyTimeout time.Duration

	out struct {
		// Must hold the lock to send to or replace the transport. Frames
		// are stamped with the current sequence position under this lock,
		// so transmission order matches stamping order.
		sync.Mutex
		tr Transport
	}

	seq  sequence  // highest sequence position seen in either direction
	subs *registry // notification subscribers

	μ sync.Mutex // protects the fields below

	state  State
	sid    string             // connection ID, for log correlation
	err    error              // error that ended the last connection
	done   chan struct{}      // closed when the connection ends
	tasks  *taskgroup.Group   // receive loop for the current connection
	pcall  map[uint32]pending // calls awaiting replies, by envelope ID
	nextID uint32             // last assigned outbound envelope ID

	onDisconnect func(error)
}

// New constructs an unconnected client with the given options.
func New(opts ...Option) *Client {
	c := &Client{
		log:          zerolog.Nop(),
		helloTimeout: DefaultHelloTimeout,
		readyTimeout: DefaultReadyTimeout,
		replyTimeout: DefaultReplyTimeout,
		subs:         newRegistry(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials the endpoint and performs the session handshake. It blocks
// until the server's hello notification arrives, ctx ends, or the
// connection fails. On success the client is Connected with its receive
// loop running; on failure the client is Disconnected.
//
// If ctx carries no deadline, the configured hello timeout bounds the
// wait. The per-connection call ID and sequence position both restart at
// zero for the new connection.
func (c *Client) Connect(ctx context.Context, ep Endpoint) error {
	if c.dial == nil {
		return ErrNoDialer
	}

	c.μ.Lock()
	if c.state != Disconnected {
		c.μ.Unlock()
		return ErrAlreadyConnected
	}
	c.state = Connecting
	c.sid = uuid.NewString()
	c.err = nil
	c.done = make(chan struct{})
	c.pcall = make(map[uint32]pending)
	c.nextID = 0
	c.seq.reset()
	done := c.done
	sid := c.sid
	c.μ.Unlock()

	ctx, cancel := withDefault(ctx, c.helloTimeout)
	defer cancel()

	tr, err := c.dial(ctx, ep)
	if err != nil {
		c.μ.Lock()
		c.state = Disconnected
		c.μ.Unlock()
		return fmt.Errorf("dial: %w", err)
	}

	c.out.Lock()
	c.out.tr = tr
	c.out.Unlock()

	// Waiting for hello goes through the ordinary registry so that arrival
	// and cancellation race cleanly with dispatch.
	hello := make(chan *Envelope, 1)
	sub := c.subs.add("hello", func(env *Envelope) {
		select {
		case hello <- env:
		default:
		}
	})
	defer sub.Cancel()

	g := taskgroup.New(nil)
	c.μ.Lock()
	c.tasks = g
	c.μ.Unlock()
	g.Go(func() error { c.recvLoop(tr); return nil })

	c.log.Debug().Str("session", sid).Str("url", ep.URL).Msg("connecting")

	select {
	case env := <-hello:
		c.μ.Lock()
		if c.state != Connecting {
			err := c.err
			c.μ.Unlock()
			if err == nil || treatErrorAsSuccess(err) {
				err = ErrConnectionClosed
			}
			return fmt.Errorf("connect: %w", err)
		}
		c.state = Connected
		c.μ.Unlock()
		c.log.Debug().Str("session", sid).Uint32("seq", env.Seq).Msg("session established")
		return nil

	case <-done:
		return fmt.Errorf("connect: %w", c.connErr())

	case <-ctx.Done():
		c.closeOut()
		c.waitTasks()
		return fmt.Errorf("connect: %w", ctx.Err())
	}
}

// Ready reports readiness to the server and blocks until the server
// confirms, ctx ends, or the connection fails. It may be called when the
// client is Connected, or again when a previous Ready did not complete.
// Once the client is Authenticated further calls report success without
// another exchange.
//
// If ctx carries no deadline, the configured ready timeout bounds the
// wait. On timeout the client remains ReadyPending and Ready may be
// retried.
func (c *Client) Ready(ctx context.Context) error {
	c.μ.Lock()
	switch c.state {
	case Connected:
		c.state = ReadyPending
	case ReadyPending:
		// an earlier Ready timed out; try again
	case Authenticated:
		c.μ.Unlock()
		return nil
	default:
		c.μ.Unlock()
		return ErrNotConnected
	}
	done := c.done
	sid := c.sid
	c.μ.Unlock()

	ctx, cancel := withDefault(ctx, c.readyTimeout)
	defer cancel()

	confirmed := make(chan struct{}, 1)
	sub := c.subs.add("onReady", func(env *Envelope) {
		if env.Params.GetBool("isReady") {
			select {
			case confirmed <- struct{}{}:
			default:
			}
		}
	})
	defer sub.Cancel()

	if err := c.Send("ready", Params{"isReady": true}); err != nil {
		return fmt.Errorf("ready: %w", err)
	}

	select {
	case <-confirmed:
		c.μ.Lock()
		if c.state == ReadyPending {
			c.state = Authenticated
		}
		ok := c.state == Authenticated
		c.μ.Unlock()
		if !ok {
			return fmt.Errorf("ready: %w", c.connErr())
		}
		c.log.Debug().Str("session", sid).Msg("readiness confirmed")
		return nil

	case <-done:
		return fmt.Errorf("ready: %w", c.connErr())

	case <-ctx.Done():
		return fmt.Errorf("ready: %w", ctx.Err())
	}
}

// Send transmits a method that expects no reply. It returns once the
// transport has accepted the frame; the server will not answer it, and no
// call remains pending. Send requires an established session.
func (c *Client) Send(method string, params Params) error {
	c.μ.Lock()
	if c.state < Connected {
		c.μ.Unlock()
		return ErrNotConnected
	}
	c.nextID++
	id := c.nextID
	c.μ.Unlock()

	return c.sendOut(&Envelope{
		Type: EnvelopeMethod, ID: id, Method: method, Params: params, Discard: true,
	})
}

// SendAndListen transmits a method and blocks until its reply arrives, ctx
// ends, or the connection fails. A successful reply is returned with its
// result payload; all errors reported have concrete type *CallError.
//
// If ctx carries no deadline, the configured reply timeout bounds the
// wait. When the wait ends before the reply arrives the pending call is
// released, and a reply arriving later is discarded.
func (c *Client) SendAndListen(ctx context.Context, method string, params Params) (*Envelope, error) {
	rootMetrics.callOut.Add(1)
	env, err := c.sendAndListen(ctx, method, params)
	if err != nil {
		rootMetrics.callOutErr.Add(1)
	}
	return env, err
}

func (c *Client) sendAndListen(ctx context.Context, method string, params Params) (*Envelope, error) {
	ctx, cancel := withDefault(ctx, c.replyTimeout)
	defer cancel()

	id, pc, err := c.sendReq(method, params)
	if err != nil {
		return nil, &CallError{Err: fmt.Errorf("call %q: %w", method, err)}
	}
	rootMetrics.callPending.Add(1)
	defer rootMetrics.callPending.Add(-1)

	select {
	case rsp, ok := <-pc:
		if !ok {
			return nil, &CallError{Err: fmt.Errorf("call %q: %w", method, c.connErr())}
		}
		if rsp.Err != nil {
			return nil, &CallError{Reply: rsp}
		}
		return rsp, nil

	case <-ctx.Done():
		c.release(id)
		return nil, &CallError{Err: fmt.Errorf("call %q: %w", method, ctx.Err())}
	}
}

// SendSucceeds transmits a method expecting a reply and reports whether
// the server accepted it. A server-reported error yields false with a nil
// error; transport failures, timeouts, and cancellations are returned as
// errors with a false result.
func (c *Client) SendSucceeds(ctx context.Context, method string, params Params) (bool, error) {
	_, err := c.SendAndListen(ctx, method, params)
	if err != nil {
		var ce *CallError
		if errors.As(err, &ce) && ce.ServerError() != nil {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Subscribe registers fn to receive inbound methods named method. The
// subscribers of a name run synchronously on the receive path in
// registration order, each envelope delivered to each subscriber exactly
// once. Subscriptions persist across connections until cancelled.
func (c *Client) Subscribe(method string, fn Subscriber) *Subscription {
	return c.subs.add(method, fn)
}

// OnDisconnect registers f to be called when a connection ends, with the
// error that ended it (nil for a clean closure). At most one callback is
// registered at a time; passing nil removes it. It returns c to permit
// chaining during setup.
func (c *Client) OnDisconnect(f func(error)) *Client {
	c.μ.Lock()
	defer c.μ.Unlock()
	c.onDisconnect = f
	return c
}

// State reports the client's current connection state.
func (c *Client) State() State {
	c.μ.Lock()
	defer c.μ.Unlock()
	return c.state
}

// SessionID reports the opaque ID assigned to the current connection for
// log correlation, or "" if the client has never connected.
func (c *Client) SessionID() string {
	c.μ.Lock()
	defer c.μ.Unlock()
	return c.sid
}

// Metrics returns the expvar map of counters shared by the clients in
// this process. The caller may add its own entries to the map.
func (c *Client) Metrics() *expvar.Map { return rootMetrics.emap }

// Wait blocks until the connection has ended and reports the error that
// ended it, or nil if it closed cleanly or the client never connected.
func (c *Client) Wait() error {
	if !c.waitTasks() {
		return nil
	}

	// Clean up connection state so it can be garbage collected.
	c.μ.Lock()
	defer c.μ.Unlock()
	c.tasks = nil
	c.out.Lock()
	c.out.tr = nil
	c.out.Unlock()
	c.pcall = nil

	if c.err != nil && !treatErrorAsSuccess(c.err) {
		return c.err
	}
	return nil
}

// Close closes the connection and blocks until the client has settled.
// It reports the error that ended the connection, if any.
func (c *Client) Close() error {
	c.closeOut()
	return c.Wait()
}

// sendReq registers a pending call and transmits its envelope, returning
// the channel its reply will be delivered on. The registration is released
// again if the send fails.
func (c *Client) sendReq(method string, params Params) (uint32, pending, error) {
	c.μ.Lock()
	if c.state < Connected {
		c.μ.Unlock()
		return 0, nil, ErrNotConnected
	}
	c.nextID++
	id := c.nextID
	if _, ok := c.pcall[id]; ok {
		c.μ.Unlock()
		panic(fmt.Sprintf("call ID %d is already in flight", id))
	}
	pc := make(pending, 1)
	c.pcall[id] = pc
	c.μ.Unlock()

	// Transmit without holding the state lock, so the receive path can
	// keep resolving calls while the write is in flight.
	err := c.sendOut(&Envelope{Type: EnvelopeMethod, ID: id, Method: method, Params: params})

	if err != nil {
		c.release(id)
		return 0, nil, err
	}
	return id, pc, nil
}

// release removes the pending call for id, if one is still outstanding.
func (c *Client) release(id uint32) {
	c.μ.Lock()
	defer c.μ.Unlock()
	delete(c.pcall, id)
}

// sendOut stamps env with the current sequence position, encodes it, and
// transmits it. Holding the output lock across stamp and send keeps the
// wire order of frames consistent with their stamps.
func (c *Client) sendOut(env *Envelope) error {
	c.out.Lock()
	defer c.out.Unlock()
	if c.out.tr == nil {
		return ErrNotConnected
	}
	env.Seq = c.seq.current()
	frame, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	rootMetrics.frameSent.Add(1)
	c.log.Trace().RawJSON("frame", frame).Msg("send frame")
	return c.out.tr.Send(frame)
}

// closeOut closes the transport, if the client has one. The receive loop
// observes the closure and settles the connection.
func (c *Client) closeOut() {
	c.out.Lock()
	defer c.out.Unlock()
	if c.out.tr != nil {
		c.out.tr.Close()
	}
}

// recvLoop parses and dispatches inbound frames until the transport
// reports an error, then fails the connection with that error.
func (c *Client) recvLoop(tr Transport) {
	for {
		frame, err := tr.Recv()
		if err != nil {
			c.fail(err)
			return
		}
		rootMetrics.frameRecv.Add(1)

		env, err := ParseEnvelope(frame)
		if err != nil {
			rootMetrics.frameDropped.Add(1)
			c.log.Debug().Err(err).Msg("dropping malformed frame")
			continue
		}
		c.seq.observe(env.Seq)

		switch env.Type {
		case EnvelopeReply:
			c.dispatchReply(env)
		case EnvelopeMethod:
			c.dispatchMethod(env)
		}
	}
}

// dispatchReply resolves the pending call awaiting env. A reply that
// matches no pending call is discarded; such replies are expected when a
// call timed out before its reply arrived.
func (c *Client) dispatchReply(env *Envelope) {
	c.μ.Lock()
	pc, ok := c.pcall[env.ID]
	delete(c.pcall, env.ID)
	c.μ.Unlock()
	if !ok {
		rootMetrics.replyOrphaned.Add(1)
		c.log.Debug().Uint32("id", env.ID).Msg("discarding unmatched reply")
		return
	}
	pc.deliver(env)
}

// dispatchMethod delivers env to the subscribers of its name. Until the
// session is established only the hello notification is deliverable;
// anything else the server sends early is dropped.
func (c *Client) dispatchMethod(env *Envelope) {
	c.μ.Lock()
	gated := c.state == Connecting && env.Method != "hello"
	c.μ.Unlock()
	if gated {
		rootMetrics.eventDropped.Add(1)
		return
	}

	fns := c.subs.lookup(env.Method)
	if len(fns) == 0 {
		rootMetrics.eventDropped.Add(1)
		c.log.Debug().Str("method", env.Method).Msg("no subscriber for method")
		return
	}
	rootMetrics.eventIn.Add(1)
	for _, fn := range fns {
		c.invoke(fn, env)
	}
}

// invoke runs one subscriber, converting a panic into a logged drop so
// that the receive loop survives.
func (c *Client) invoke(fn Subscriber, env *Envelope) {
	defer func() {
		if x := recover(); x != nil {
			c.log.Error().Str("method", env.Method).Any("panic", x).Msg("subscriber panicked (recovered)")
		}
	}()
	fn(env)
}

// fail settles the connection: the transport is closed, every pending call
// is terminated, the state returns to Disconnected, and the disconnect
// callback, if any, is invoked. It is called exactly once per connection,
// by the receive loop.
func (c *Client) fail(err error) {
	c.closeOut()

	c.μ.Lock()
	for _, pc := range c.pcall {
		pc.close()
	}
	c.pcall = make(map[uint32]pending)
	c.state = Disconnected
	c.err = err
	done := c.done
	sid := c.sid
	cb := c.onDisconnect
	c.μ.Unlock()

	if done != nil {
		close(done)
	}
	cause := err
	if treatErrorAsSuccess(cause) {
		cause = nil
	}
	c.log.Debug().Str("session", sid).Err(cause).Msg("connection ended")
	if cb != nil {
		cb(cause)
	}
}

// connErr reports the error that ended the connection, substituting
// ErrConnectionClosed for clean closures.
func (c *Client) connErr() error {
	c.μ.Lock()
	defer c.μ.Unlock()
	if c.err != nil && !treatErrorAsSuccess(c.err) {
		return c.err
	}
	return ErrConnectionClosed
}

// waitTasks waits for the receive loop to exit, and reports false if the
// client has no connection to wait for.
func (c *Client) waitTasks() bool {
	c.μ.Lock()
	t := c.tasks
	c.μ.Unlock()
	if t == nil {
		return false
	}
	t.Wait()
	return true
}

// treatErrorAsSuccess reports whether err is an error that should be
// reported as a clean closure of the connection.
func treatErrorAsSuccess(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
