// Copyright (C) 2025 Cloud System Implementation. All Rights Reserved.

package interactive_test

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"

	interactive "github.com/Cloud-System-Implementation/StreamingClientLibrary"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		env  *interactive.Envelope
		want string
	}{
		{"MethodBare", &interactive.Envelope{
			Type: interactive.EnvelopeMethod, ID: 1, Method: "hello", Discard: true,
		}, `{"type":"method","id":1,"seq":0,"method":"hello","params":null,"discard":true}`},

		{"MethodParams", &interactive.Envelope{
			Type: interactive.EnvelopeMethod, ID: 2, Seq: 17, Method: "ready",
			Params: interactive.Params{"isReady": true},
		}, `{"type":"method","id":2,"seq":17,"method":"ready","params":{"isReady":true},"discard":false}`},

		{"ReplyResult", &interactive.Envelope{
			Type: interactive.EnvelopeReply, ID: 7, Seq: 41,
			Result: interactive.Params{"ok": true},
		}, `{"type":"reply","id":7,"seq":41,"error":null,"result":{"ok":true}}`},

		{"ReplyError", &interactive.Envelope{
			Type: interactive.EnvelopeReply, ID: 8,
			Err: &interactive.ReplyError{Code: 4003, Message: "unknown method"},
		}, `{"type":"reply","id":8,"seq":0,"error":{"code":4003,"message":"unknown method"},"result":null}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			frame, err := tc.env.Encode()
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if got := string(frame); got != tc.want {
				t.Errorf("Encode:\n got %s\nwant %s", got, tc.want)
			}
		})
	}
}

func TestEncodeErrors(t *testing.T) {
	tests := []struct {
		name string
		env  *interactive.Envelope
		want string
	}{
		{"NoMethod", &interactive.Envelope{Type: interactive.EnvelopeMethod, ID: 1}, "empty method name"},
		{"NoType", &interactive.Envelope{ID: 1}, "invalid envelope type"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			frame, err := tc.env.Encode()
			if err == nil {
				t.Fatalf("Encode: got %s, want error", frame)
			}
			mustErr(t, err, tc.want)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	// Values are restricted to the types encoding/json assigns on decode,
	// so equality holds across the trip.
	tests := []*interactive.Envelope{
		{Type: interactive.EnvelopeMethod, ID: 1, Method: "hello", Discard: true},
		{Type: interactive.EnvelopeMethod, ID: 2, Seq: 3, Method: "giveInput",
			Params: interactive.Params{"controlID": "jump", "cost": float64(10), "down": true}},
		{Type: interactive.EnvelopeReply, ID: 2, Seq: 5,
			Result: interactive.Params{"scenes": []any{"default", "lobby"}}},
		{Type: interactive.EnvelopeReply, ID: 9,
			Err: &interactive.ReplyError{Code: 4019, Message: "access denied", Path: "params.sceneID"}},
	}
	for _, env := range tests {
		t.Run(env.String(), func(t *testing.T) {
			frame, err := env.Encode()
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := interactive.ParseEnvelope(frame)
			if err != nil {
				t.Fatalf("ParseEnvelope: %v", err)
			}
			if diff := cmp.Diff(env, got); diff != "" {
				t.Errorf("Round trip (-want, +got):\n%s", diff)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name, frame, want string
	}{
		{"Junk", "{not json", "invalid frame"},
		{"NonObject", `"a string"`, "invalid frame"},
		{"NoType", `{"id":1,"seq":2}`, "missing type tag"},
		{"BadType", `{"type":"gibberish","id":1}`, `unknown type "gibberish"`},
		{"NoMethod", `{"type":"method","id":1,"seq":0}`, "empty method name"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env, err := interactive.ParseEnvelope([]byte(tc.frame))
			if err == nil {
				t.Fatalf("ParseEnvelope: got %v, want error", env)
			}
			mustErr(t, err, tc.want)
		})
	}
}

func TestEnvelopeString(t *testing.T) {
	tests := []struct {
		env  *interactive.Envelope
		want string
	}{
		{&interactive.Envelope{Type: interactive.EnvelopeMethod, ID: 1, Seq: 2, Method: "hello", Discard: true},
			"Method(ID=1, Seq=2, hello, discard=true)"},
		{&interactive.Envelope{Type: interactive.EnvelopeReply, ID: 7},
			"Reply(ID=7, Seq=0, OK)"},
		{&interactive.Envelope{Type: interactive.EnvelopeReply, ID: 8,
			Err: &interactive.ReplyError{Code: 4003, Message: "unknown method"}},
			"Reply(ID=8, Seq=0, error=[code 4003] unknown method)"},
		{&interactive.Envelope{Type: 9},
			"Envelope(TYPE:9, ID=0, Seq=0)"},
	}
	for _, tc := range tests {
		if got := tc.env.String(); got != tc.want {
			t.Errorf("String: got %q, want %q", got, tc.want)
		}
	}
}

func TestParams(t *testing.T) {
	p := interactive.Params{
		"name":  "ayla",
		"ready": true,
		"count": float64(3),
		"big":   json.Number("12"),
		"bad":   json.Number("x"),
		"obj":   map[string]any{"k": "v"},
	}

	if got := p.GetString("name"); got != "ayla" {
		t.Errorf(`GetString(name): got %q, want "ayla"`, got)
	}
	if got := p.GetString("count"); got != "" {
		t.Errorf(`GetString(count): got %q, want ""`, got)
	}
	if !p.GetBool("ready") {
		t.Error("GetBool(ready): got false, want true")
	}
	if p.GetBool("name") {
		t.Error("GetBool(name): got true, want false")
	}
	if got := p.GetInt("count"); got != 3 {
		t.Errorf("GetInt(count): got %d, want 3", got)
	}
	if got := p.GetInt("big"); got != 12 {
		t.Errorf("GetInt(big): got %d, want 12", got)
	}
	if got := p.GetInt("bad"); got != 0 {
		t.Errorf("GetInt(bad): got %d, want 0", got)
	}
	if got := p.GetInt("nonesuch"); got != 0 {
		t.Errorf("GetInt(nonesuch): got %d, want 0", got)
	}
	if got := p.Get("nonesuch"); got != nil {
		t.Errorf("Get(nonesuch): got %v, want nil", got)
	}

	// Set allocates storage for a nil map.
	var q interactive.Params
	q = q.Set("k", "v")
	if got := q.GetString("k"); got != "v" {
		t.Errorf(`GetString(k): got %q, want "v"`, got)
	}
}

func TestReplyErrorString(t *testing.T) {
	tests := []struct {
		err  *interactive.ReplyError
		want string
	}{
		{&interactive.ReplyError{Code: 4003, Message: "unknown method"},
			"[code 4003] unknown method"},
		{&interactive.ReplyError{Code: 4000, Message: "bad value", Path: "params.sceneID"},
			"[code 4000] bad value (at params.sceneID)"},
	}
	for _, tc := range tests {
		if got := tc.err.Error(); got != tc.want {
			t.Errorf("Error: got %q, want %q", got, tc.want)
		}
	}
}

func TestDecodeResult(t *testing.T) {
	env := &interactive.Envelope{
		Type: interactive.EnvelopeReply, ID: 3,
		Result: interactive.Params{
			"participants": []any{
				map[string]any{"sessionID": "s1", "username": "ayla"},
			},
			"total":   float64(1),
			"hasMore": false,
		},
	}

	var got struct {
		Participants []struct {
			SessionID string `json:"sessionID"`
			Username  string `json:"username"`
		} `json:"participants"`
		Total   int  `json:"total"`
		HasMore bool `json:"hasMore"`
	}
	if err := env.DecodeResult(&got); err != nil {
		t.Fatalf("DecodeResult: %v", err)
	}
	if len(got.Participants) != 1 || got.Participants[0].SessionID != "s1" || got.Total != 1 {
		t.Errorf("DecodeResult: got %+v, want one participant s1", got)
	}
}
