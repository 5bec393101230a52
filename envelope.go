// Copyright (C) 2025 Cloud System Implementation. All Rights Reserved.

package interactive

import (
	"encoding/json"
	"errors"
	"fmt"
)

// An Envelope is the parsed form of a single wire frame. Every frame is a
// complete JSON object carrying a type tag, a client-assigned ID, and the
// sender's sequence position; the remaining fields depend on the type.
//
// A method envelope names an operation and carries its parameters. A reply
// envelope answers the method envelope that shares its ID, carrying either
// a result or an error but never both.
type Envelope struct {
	Type    EnvelopeType // the frame type (method or reply)
	ID      uint32       // correlation ID, assigned by the original sender
	Seq     uint32       // the sender's sequence position when the frame was built
	Method  string       // method: the operation name
	Params  Params       // method: the operation parameters (may be nil)
	Discard bool         // method: whether the sender declines a reply
	Err     *ReplyError  // reply: the error detail (nil on success)
	Result  Params       // reply: the result payload (nil on error)
}

// EnvelopeType describes the kind of frame an Envelope carries.
type EnvelopeType byte

const (
	// EnvelopeMethod is a named call or pushed notification.
	EnvelopeMethod EnvelopeType = 1

	// EnvelopeReply is the response correlated to a method by its ID.
	EnvelopeReply EnvelopeType = 2
)

func (t EnvelopeType) String() string {
	switch t {
	case EnvelopeMethod:
		return "method"
	case EnvelopeReply:
		return "reply"
	default:
		return fmt.Sprintf("TYPE:%d", byte(t))
	}
}

// wireEnvelope is the JSON shape shared by both frame types. Fields absent
// from a given type are left at their zero values when parsing.
type wireEnvelope struct {
	Type    string      `json:"type"`
	ID      uint32      `json:"id"`
	Seq     uint32      `json:"seq"`
	Method  string      `json:"method,omitempty"`
	Params  Params      `json:"params,omitempty"`
	Discard bool        `json:"discard,omitempty"`
	Err     *ReplyError `json:"error,omitempty"`
	Result  Params      `json:"result,omitempty"`
}

// wireMethod and wireReply control which keys each frame type emits. A
// reply always carries both "error" and "result" keys, one of them null.
type wireMethod struct {
	Type    string `json:"type"`
	ID      uint32 `json:"id"`
	Seq     uint32 `json:"seq"`
	Method  string `json:"method"`
	Params  Params `json:"params"`
	Discard bool   `json:"discard"`
}

type wireReply struct {
	Type   string      `json:"type"`
	ID     uint32      `json:"id"`
	Seq    uint32      `json:"seq"`
	Err    *ReplyError `json:"error"`
	Result Params      `json:"result"`
}

// Encode encodes e into a wire frame.
func (e *Envelope) Encode() ([]byte, error) {
	switch e.Type {
	case EnvelopeMethod:
		if e.Method == "" {
			return nil, errors.New("encode: empty method name")
		}
		return json.Marshal(wireMethod{
			Type: "method", ID: e.ID, Seq: e.Seq,
			Method: e.Method, Params: e.Params, Discard: e.Discard,
		})
	case EnvelopeReply:
		return json.Marshal(wireReply{
			Type: "reply", ID: e.ID, Seq: e.Seq,
			Err: e.Err, Result: e.Result,
		})
	default:
		return nil, fmt.Errorf("encode: invalid envelope type %v", e.Type)
	}
}

// ParseEnvelope parses a wire frame. It reports an error if the frame is
// not a JSON object, its type tag is unknown, or a field required by its
// type is missing.
func ParseEnvelope(frame []byte) (*Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(frame, &w); err != nil {
		return nil, fmt.Errorf("invalid frame: %w", err)
	}
	switch w.Type {
	case "method":
		if w.Method == "" {
			return nil, errors.New("invalid method frame: empty method name")
		}
		return &Envelope{
			Type: EnvelopeMethod, ID: w.ID, Seq: w.Seq,
			Method: w.Method, Params: w.Params, Discard: w.Discard,
		}, nil
	case "reply":
		return &Envelope{
			Type: EnvelopeReply, ID: w.ID, Seq: w.Seq,
			Err: w.Err, Result: w.Result,
		}, nil
	case "":
		return nil, errors.New("invalid frame: missing type tag")
	default:
		return nil, fmt.Errorf("invalid frame: unknown type %q", w.Type)
	}
}

func (e *Envelope) String() string {
	switch e.Type {
	case EnvelopeMethod:
		return fmt.Sprintf("Method(ID=%d, Seq=%d, %s, discard=%v)", e.ID, e.Seq, e.Method, e.Discard)
	case EnvelopeReply:
		if e.Err != nil {
			return fmt.Sprintf("Reply(ID=%d, Seq=%d, error=%v)", e.ID, e.Seq, e.Err)
		}
		return fmt.Sprintf("Reply(ID=%d, Seq=%d, OK)", e.ID, e.Seq)
	default:
		return fmt.Sprintf("Envelope(TYPE:%d, ID=%d, Seq=%d)", byte(e.Type), e.ID, e.Seq)
	}
}

// DecodeParams decodes the envelope's params payload into v.
func (e *Envelope) DecodeParams(v any) error { return decodeInto(e.Params, v) }

// DecodeResult decodes the envelope's result payload into v.
func (e *Envelope) DecodeResult(v any) error { return decodeInto(e.Result, v) }

func decodeInto(p Params, v any) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Params is the structured payload of a frame. The connection machinery
// does not interpret payload schemas beyond the few fields named by the
// handshake; the getters exist for those single-field plucks. Values
// arrive with the types encoding/json assigns: numbers are float64,
// objects are map[string]any.
type Params map[string]any

// Get returns the value for key, or nil if the key is not present.
func (p Params) Get(key string) any { return p[key] }

// GetString returns the string value for key, or "" if the key is not
// present or is not a string.
func (p Params) GetString(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// GetBool returns the boolean value for key, or false if the key is not
// present or is not a boolean.
func (p Params) GetBool(key string) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return false
}

// GetInt returns the integer value for key, or 0 if the key is not present
// or is not a number.
func (p Params) GetInt(key string) int {
	switch v := p[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case uint32:
		return int(v)
	case uint64:
		return int(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0
		}
		return int(n)
	}
	return 0
}

// Set stores value under key, allocating the map's backing storage if
// needed, and returns the updated Params.
func (p Params) Set(key string, value any) Params {
	if p == nil {
		p = make(Params)
	}
	p[key] = value
	return p
}

// A ReplyError is the structured error detail a reply envelope carries
// when the server rejects or fails a method.
type ReplyError struct {
	Code    int    `json:"code"`           // numeric error code
	Message string `json:"message"`        // human-readable description
	Path    string `json:"path,omitempty"` // offending parameter path, if any
}

// Error satisfies the error interface.
func (e *ReplyError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("[code %d] %s (at %s)", e.Code, e.Message, e.Path)
	}
	return fmt.Sprintf("[code %d] %s", e.Code, e.Message)
}
