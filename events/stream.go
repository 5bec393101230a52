package events

import (
	"context"
	"iter"

	interactive "github.com/Cloud-System-Implementation/StreamingClientLibrary"
)

// Stream subscribes to the named notification method on c and returns an
// iterator over the notifications that arrive. The subscription is taken
// when Stream is called, so notifications delivered before the caller
// begins iterating are not missed; it is released when the consumer stops
// iterating or ctx ends. The returned iterator is single-use.
//
// The subscriber runs on the client's receive goroutine and must not
// block it, so arrivals are buffered between delivery and consumption.
// Notifications that arrive while the buffer is full are dropped. A
// buffer less than 1 is treated as 1.
func Stream(ctx context.Context, c *interactive.Client, method string, buffer int) iter.Seq[*interactive.Envelope] {
	vals := make(chan *interactive.Envelope, max(buffer, 1))
	sub := c.Subscribe(method, func(env *interactive.Envelope) {
		select {
		case vals <- env:
		default: // the consumer is behind, shed the arrival
		}
	})
	stop := context.AfterFunc(ctx, sub.Cancel)

	// We are handed values on the receive goroutine but can only yield
	// from the iterator, so arrivals are smuggled through vals.
	return func(yield func(*interactive.Envelope) bool) {
		defer stop()
		defer sub.Cancel()
		for {
			select {
			case env := <-vals:
				if !yield(env) {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}
}

// Values is like [Stream], but decodes the parameters of each
// notification into a P. Notifications whose parameters do not decode
// into P are dropped.
func Values[P any](ctx context.Context, c *interactive.Client, method string, buffer int) iter.Seq[P] {
	seq := Stream(ctx, c, method, buffer)
	return func(yield func(P) bool) {
		for env := range seq {
			var p P
			if err := env.DecodeParams(&p); err != nil {
				continue
			}
			if !yield(p) {
				return
			}
		}
	}
}
