// Copyright (C) 2025 Cloud System Implementation. All Rights Reserved.

// Package interactive implements the client side of the interactive
// streaming protocol.
//
// The protocol runs over a single persistent duplex connection carrying
// JSON text frames. The server pushes notifications and answers correlated
// requests on the same connection, in both directions interleaved with no
// framing beyond one JSON object per frame. Each frame carries a sequence
// position that orders the two directions against each other.
//
// # Clients
//
// The core type defined by this package is the [Client]. A client dials a
// server, performs the session handshake, and then multiplexes correlated
// calls and subscriber dispatch over the connection.
//
// To create a new, unconnected client:
//
//	c := interactive.New(interactive.WithDial(transport.Dial))
//
// To connect and establish a session:
//
//	err := c.Connect(ctx, interactive.Endpoint{
//	   URL:           "wss://interactive.example.org/gameClient",
//	   Authorization: token,
//	   VersionID:     "41735",
//	})
//
// Connect blocks until the server's hello notification arrives. Once the
// session is established, [Client.Ready] reports readiness and waits for
// the server's confirmation; after that the session is fully interactive.
//
// The connection runs until [Client.Close] is called, the server closes
// it, or a transport error occurs. Call [Client.Wait] to wait for the
// connection to end and return its status:
//
//	if err := c.Wait(); err != nil {
//	   log.Fatalf("Connection failed: %v", err)
//	}
//
// # Transports
//
// The [Transport] interface defines the ability to exchange whole text
// frames with the server. A Transport implementation must allow concurrent
// use by one sender and one receiver.
//
// The transport package provides the standard WebSocket implementation and
// an in-memory pipe for testing.
//
// # Calls
//
// A call is a named method sent to the server. Methods that expect no
// answer are sent with [Client.Send]; the server discards their outcome
// and nothing remains pending:
//
//	err := c.Send("updateThrottle", params)
//
// Methods that expect an answer are sent with [Client.SendAndListen],
// which blocks until the reply correlated to the call's ID arrives:
//
//	rsp, err := c.SendAndListen(ctx, "getScenes", nil)
//	if err != nil {
//	   log.Fatalf("Call failed: %v", err)
//	}
//
// Errors reported by SendAndListen have concrete type [*CallError]. When
// the server itself rejected the call, the CallError carries the reply and
// its [*ReplyError] detail; [Client.SendSucceeds] folds that case into a
// boolean for callers that only care whether the server accepted.
//
// # Events
//
// The server pushes notifications as method frames the client never
// replies to. Use [Client.Subscribe] to register handlers by method name:
//
//	sub := c.Subscribe("giveInput", func(env *interactive.Envelope) {
//	   // ...
//	})
//	defer sub.Cancel()
//
// The subscribers of a name run synchronously on the receive path in
// registration order, and each envelope is delivered to each subscriber
// exactly once. A handler that needs to issue reply-bearing calls or do
// slow work must hand off to another goroutine. Notifications with no
// subscriber are discarded. The events package provides adapters from
// typed payload handlers to subscribers.
//
// # Sequence Positions
//
// Every frame carries the sender's sequence position at the time the frame
// was built. The client tracks the highest position seen in either
// direction and stamps it on each outbound frame, so the server can tell
// what the client had observed when it sent a given frame. Positions
// restart at zero on each new connection.
//
// # Metrics
//
// Clients maintain a collection of metrics while running. Use the
// [Client.Metrics] method to obtain an [expvar.Map] containing the metrics
// exported by the client. Metrics are shared globally among all clients.
//
// The metrics currently exported include:
//
//   - frames_received: counter of frames received
//   - frames_sent: counter of frames sent
//   - frames_dropped: counter of frames received and discarded unparsed
//   - calls_out: counter of outbound calls initiated
//   - calls_out_failed: counter of outbound calls resulting in errors
//   - calls_pending: gauge of outbound calls currently pending
//   - replies_orphaned: counter of replies matching no pending call
//   - events_delivered: counter of notifications delivered to subscribers
//   - events_dropped: counter of notifications with no subscriber
//
// Additional metrics may be added in the future. It is safe for the caller
// to modify the metrics map to add, update, and remove entries.
package interactive
