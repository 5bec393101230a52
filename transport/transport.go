// Copyright (C) 2025 Cloud System Implementation. All Rights Reserved.

// Package transport provides implementations of the interactive.Transport
// interface.
package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	interactive "github.com/Cloud-System-Implementation/StreamingClientLibrary"
)

// DefaultWriteTimeout bounds each frame write unless a Dialer overrides it.
const DefaultWriteTimeout = 10 * time.Second

// Dial opens a WebSocket connection to the endpoint with default settings,
// presenting the endpoint's connection-time parameters as handshake
// headers. It satisfies [interactive.DialFunc].
func Dial(ctx context.Context, ep interactive.Endpoint) (interactive.Transport, error) {
	return Dialer{}.Dial(ctx, ep)
}

// A Dialer customizes how WebSocket connections are opened. The zero value
// is ready for use with default settings.
type Dialer struct {
	// HandshakeTimeout bounds the WebSocket handshake. If zero, only the
	// dial context bounds it.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds each frame write on the resulting transport.
	// If zero, DefaultWriteTimeout applies; if negative, writes are
	// unbounded.
	WriteTimeout time.Duration

	// Header contains additional headers merged into the handshake
	// request before the endpoint's own parameters.
	Header http.Header
}

// Dial opens a WebSocket connection to the endpoint.
func (d Dialer) Dial(ctx context.Context, ep interactive.Endpoint) (interactive.Transport, error) {
	hdr := make(http.Header, len(d.Header)+4)
	for k, vs := range d.Header {
		hdr[k] = vs
	}
	if ep.Authorization != "" {
		hdr.Set("Authorization", "Bearer "+ep.Authorization)
	}
	if ep.ProtocolVersion != "" {
		hdr.Set("X-Protocol-Version", ep.ProtocolVersion)
	}
	if ep.VersionID != "" {
		hdr.Set("X-Interactive-Version", ep.VersionID)
	}
	if ep.ShareCode != "" {
		hdr.Set("X-Interactive-Sharecode", ep.ShareCode)
	}

	wd := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	conn, rsp, err := wd.DialContext(ctx, ep.URL, hdr)
	if err != nil {
		if rsp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %s)", ep.URL, err, rsp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", ep.URL, err)
	}
	return newWS(conn, d.WriteTimeout), nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Upgrade completes the WebSocket handshake on an inbound HTTP request and
// returns the resulting Transport. It is the server-side counterpart of
// Dial, for servers built on this package.
func Upgrade(w http.ResponseWriter, r *http.Request) (interactive.Transport, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newWS(conn, 0), nil
}

// A WS is a Transport over a WebSocket connection. Frames travel as text
// messages. A WS is safe for concurrent use by one sender and one
// receiver.
type WS struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

func newWS(conn *websocket.Conn, writeTimeout time.Duration) *WS {
	if writeTimeout == 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &WS{conn: conn, writeTimeout: writeTimeout}
}

// Send implements a method of the [interactive.Transport] interface.
func (w *WS) Send(frame []byte) error {
	if w.writeTimeout > 0 {
		w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	}
	return w.conn.WriteMessage(websocket.TextMessage, frame)
}

// Recv implements a method of the [interactive.Transport] interface.
// A normal closure by the remote end is reported as io.EOF.
func (w *WS) Recv() ([]byte, error) {
	for {
		kind, msg, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		if kind != websocket.TextMessage {
			continue // the protocol exchanges text frames only
		}
		return msg, nil
	}
}

// Close implements a method of the [interactive.Transport] interface.
// It sends a close control frame before closing the socket, so the remote
// end observes a normal closure.
func (w *WS) Close() error {
	w.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		w.closeErr = w.conn.Close()
	})
	return w.closeErr
}

// Pipe constructs a connected pair of in-memory transports that pass
// frames directly. Frames sent to A are received by B and vice versa.
func Pipe() (A, B interactive.Transport) {
	a2b := make(chan []byte)
	b2a := make(chan []byte)
	A = pipe{a2b: a2b, b2a: b2a}
	B = pipe{a2b: b2a, b2a: a2b}
	return
}

type pipe struct {
	a2b chan<- []byte
	b2a <-chan []byte
}

// Send implements a method of the [interactive.Transport] interface.
func (p pipe) Send(frame []byte) (err error) {
	defer safeClose(&err)
	p.a2b <- frame
	return nil
}

// Recv implements a method of the [interactive.Transport] interface.
func (p pipe) Recv() ([]byte, error) {
	frame, ok := <-p.b2a
	if !ok {
		return nil, net.ErrClosed
	}
	return frame, nil
}

// Close implements a method of the [interactive.Transport] interface.
func (p pipe) Close() (err error) {
	defer safeClose(&err)
	close(p.a2b)
	return nil
}

func safeClose(err *error) {
	if x := recover(); x != nil && *err == nil {
		*err = net.ErrClosed
	}
}
