// Copyright (C) 2025 Cloud System Implementation. All Rights Reserved.

package interactive

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Default wait bounds, applied to the corresponding operations when the
// caller's context does not carry its own deadline.
const (
	DefaultHelloTimeout = 30 * time.Second // Connect's wait for the server hello
	DefaultReadyTimeout = 30 * time.Second // Ready's wait for confirmation
	DefaultReplyTimeout = 30 * time.Second // SendAndListen's wait for the reply
)

// An Option adjusts the construction of a Client in New.
type Option func(*Client)

// WithDial sets the transport dialer used by Connect. A client constructed
// without a dialer cannot connect.
func WithDial(dial DialFunc) Option {
	return func(c *Client) { c.dial = dial }
}

// WithLogger sets the logger for connection diagnostics. The default
// discards all output.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithHelloTimeout sets the bound on Connect's wait for the server hello
// when the caller's context has no deadline. A nonpositive duration
// removes the bound.
func WithHelloTimeout(d time.Duration) Option {
	return func(c *Client) { c.helloTimeout = d }
}

// WithReadyTimeout sets the bound on Ready's wait for confirmation when
// the caller's context has no deadline. A nonpositive duration removes
// the bound.
func WithReadyTimeout(d time.Duration) Option {
	return func(c *Client) { c.readyTimeout = d }
}

// WithReplyTimeout sets the bound on SendAndListen's wait for a reply when
// the caller's context has no deadline. A nonpositive duration removes
// the bound.
func WithReplyTimeout(d time.Duration) Option {
	return func(c *Client) { c.replyTimeout = d }
}

// withDefault bounds ctx by d unless ctx already has a deadline or d is
// nonpositive. The returned cancel func must be called in either case.
func withDefault(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
