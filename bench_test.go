// Copyright (C) 2025 Cloud System Implementation. All Rights Reserved.

package interactive_test

import (
	"context"
	"testing"
	"time"

	interactive "github.com/Cloud-System-Implementation/StreamingClientLibrary"
	"github.com/Cloud-System-Implementation/StreamingClientLibrary/servertest"
)

func BenchmarkCall(b *testing.B) {
	payload := interactive.Params{"word": "fuzzy wuzzy was a bear", "count": 3}

	b.Run("noop", func(b *testing.B) {
		c := benchClient(b, servertest.New().
			Handle("X", func(interactive.Params) (interactive.Params, *interactive.ReplyError) {
				return nil, nil
			}))
		runBench(b, c, nil)
	})
	b.Run("echo", func(b *testing.B) {
		c := benchClient(b, servertest.New().
			Handle("X", func(params interactive.Params) (interactive.Params, *interactive.ReplyError) {
				return params, nil
			}))
		runBench(b, c, payload)
	})
}

func BenchmarkCodec(b *testing.B) {
	env := &interactive.Envelope{
		Type: interactive.EnvelopeMethod, ID: 1, Seq: 42, Method: "giveInput",
		Params: interactive.Params{
			"participantID": "s1",
			"input":         map[string]any{"controlID": "jump", "event": "mousedown"},
		},
	}
	frame, err := env.Encode()
	if err != nil {
		b.Fatal(err)
	}

	b.Run("Encode", func(b *testing.B) {
		for b.Loop() {
			if _, err := env.Encode(); err != nil {
				b.Fatal(err)
			}
		}
	})
	b.Run("Parse", func(b *testing.B) {
		for b.Loop() {
			if _, err := interactive.ParseEnvelope(frame); err != nil {
				b.Fatal(err)
			}
		}
	})
}

func runBench(b *testing.B, c *interactive.Client, params interactive.Params) {
	b.Helper()
	ctx := context.Background()

	for b.Loop() {
		if _, err := c.SendAndListen(ctx, "X", params); err != nil {
			b.Fatal(err)
		}
	}
}

func benchClient(b *testing.B, srv *servertest.Server) *interactive.Client {
	b.Helper()
	c := interactive.New(interactive.WithDial(srv.Dial))
	b.Cleanup(func() {
		c.Close()
		srv.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx, interactive.Endpoint{}); err != nil {
		b.Fatal(err)
	}
	return c
}
