// Copyright (C) 2025 Cloud System Implementation. All Rights Reserved.

// Package events provides adapters for consuming server notifications as
// typed values rather than raw envelopes.
package events

import (
	interactive "github.com/Cloud-System-Implementation/StreamingClientLibrary"
)

// Decode adapts fn to an [interactive.Subscriber] that decodes the
// parameters of each notification into a P before delivery. Notifications
// whose parameters do not decode into P are dropped.
func Decode[P any](fn func(P)) interactive.Subscriber {
	return func(env *interactive.Envelope) {
		var p P
		if err := env.DecodeParams(&p); err == nil {
			fn(p)
		}
	}
}
