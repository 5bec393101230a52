// Copyright (C) 2025 Cloud System Implementation. All Rights Reserved.

// Package session provides a typed veneer over an interactive client for
// the scene, group, control, and participant operations of the protocol.
// Each operation builds the corresponding method envelope and decodes the
// reply, so callers work with Go values instead of raw payloads.
//
// # Usage
//
// Bind a session to a connected client:
//
//	s := session.New(c)
//
// Operations are ordinary calls:
//
//	scenes, err := s.Scenes(ctx)
//	err = s.DeleteGroup(ctx, "blue", "default")
//
// Notifications are consumed through typed subscriptions:
//
//	sub := s.OnInput(func(in session.Input) {
//		log.Printf("%s pressed %s", in.ParticipantID, in.Input.ControlID)
//	})
//	defer sub.Cancel()
package session

import (
	"context"
	"fmt"

	interactive "github.com/Cloud-System-Implementation/StreamingClientLibrary"
	"github.com/Cloud-System-Implementation/StreamingClientLibrary/events"
)

// A Session associates a client with the domain operations of the
// protocol. It is safe to copy; all copies share the same client.
type Session struct {
	c *interactive.Client
}

// New returns a Session bound to c.
func New(c *interactive.Client) Session { return Session{c: c} }

// Client returns the client associated with s.
func (s Session) Client() *interactive.Client { return s.c }

// A Scene is a named collection of controls shown to its groups.
type Scene struct {
	ID       string         `json:"sceneID"`
	Controls []Control      `json:"controls,omitempty"`
	Groups   []Group        `json:"groups,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// A Group partitions participants and assigns them a scene.
type Group struct {
	ID      string         `json:"groupID"`
	SceneID string         `json:"sceneID,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// A Control is an input element within a scene.
type Control struct {
	ID       string         `json:"controlID"`
	Kind     string         `json:"kind,omitempty"`
	Text     string         `json:"text,omitempty"`
	Cost     int            `json:"cost,omitempty"`
	Disabled bool           `json:"disabled,omitempty"`
	Position []Position     `json:"position,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// A Position places a control on one of the named layout grids.
type Position struct {
	Size   string `json:"size"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
}

// A Participant is a connected viewer. Timestamps are milliseconds since
// the Unix epoch.
type Participant struct {
	SessionID string         `json:"sessionID"`
	UserID    uint32         `json:"userID,omitempty"`
	Username  string         `json:"username,omitempty"`
	Level     int            `json:"level,omitempty"`
	LastInput int64          `json:"lastInputAt,omitempty"`
	Connected int64          `json:"connectedAt,omitempty"`
	Disabled  bool           `json:"disabled,omitempty"`
	GroupID   string         `json:"groupID,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// Scenes fetches all scenes known to the session.
func (s Session) Scenes(ctx context.Context) ([]Scene, error) {
	rsp, err := s.c.SendAndListen(ctx, "getScenes", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Scenes []Scene `json:"scenes"`
	}
	if err := rsp.DecodeResult(&out); err != nil {
		return nil, fmt.Errorf("decoding scenes: %w", err)
	}
	return out.Scenes, nil
}

// CreateGroups creates the given groups.
func (s Session) CreateGroups(ctx context.Context, groups ...Group) error {
	_, err := s.c.SendAndListen(ctx, "createGroups", interactive.Params{"groups": groups})
	return err
}

// UpdateGroups applies changes to existing groups and returns their
// updated forms.
func (s Session) UpdateGroups(ctx context.Context, groups ...Group) ([]Group, error) {
	rsp, err := s.c.SendAndListen(ctx, "updateGroups", interactive.Params{"groups": groups})
	if err != nil {
		return nil, err
	}
	var out struct {
		Groups []Group `json:"groups"`
	}
	if err := rsp.DecodeResult(&out); err != nil {
		return nil, fmt.Errorf("decoding groups: %w", err)
	}
	return out.Groups, nil
}

// DeleteGroup deletes the group with ID id. Its participants move to the
// group with ID reassignTo.
func (s Session) DeleteGroup(ctx context.Context, id, reassignTo string) error {
	_, err := s.c.SendAndListen(ctx, "deleteGroup", interactive.Params{
		"groupID":         id,
		"reassignGroupID": reassignTo,
	})
	return err
}

// CreateControls adds controls to the scene with ID sceneID.
func (s Session) CreateControls(ctx context.Context, sceneID string, controls ...Control) error {
	_, err := s.c.SendAndListen(ctx, "createControls", interactive.Params{
		"sceneID":  sceneID,
		"controls": controls,
	})
	return err
}

// UpdateControls applies changes to controls in the scene with ID sceneID
// and returns their updated forms.
func (s Session) UpdateControls(ctx context.Context, sceneID string, controls ...Control) ([]Control, error) {
	rsp, err := s.c.SendAndListen(ctx, "updateControls", interactive.Params{
		"sceneID":  sceneID,
		"controls": controls,
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		Controls []Control `json:"controls"`
	}
	if err := rsp.DecodeResult(&out); err != nil {
		return nil, fmt.Errorf("decoding controls: %w", err)
	}
	return out.Controls, nil
}

// DeleteControls removes the controls with the given IDs from the scene
// with ID sceneID.
func (s Session) DeleteControls(ctx context.Context, sceneID string, controlIDs ...string) error {
	_, err := s.c.SendAndListen(ctx, "deleteControls", interactive.Params{
		"sceneID":    sceneID,
		"controlIDs": controlIDs,
	})
	return err
}

// Participants fetches all connected participants, paging on the server's
// connection-time cursor until it reports no more.
func (s Session) Participants(ctx context.Context) ([]Participant, error) {
	var all []Participant
	var from int64
	for {
		rsp, err := s.c.SendAndListen(ctx, "getAllParticipants", interactive.Params{"from": from})
		if err != nil {
			return nil, err
		}
		var page struct {
			Participants []Participant `json:"participants"`
			HasMore      bool          `json:"hasMore"`
		}
		if err := rsp.DecodeResult(&page); err != nil {
			return nil, fmt.Errorf("decoding participants: %w", err)
		}
		all = append(all, page.Participants...)

		// An empty page cannot advance the cursor.
		if !page.HasMore || len(page.Participants) == 0 {
			return all, nil
		}
		from = page.Participants[len(page.Participants)-1].Connected
	}
}

// UpdateParticipants applies changes to the given participants, typically
// to reassign their groups.
func (s Session) UpdateParticipants(ctx context.Context, participants ...Participant) error {
	_, err := s.c.SendAndListen(ctx, "updateParticipants", interactive.Params{
		"participants": participants,
	})
	return err
}

// CaptureTransaction commits the charge held by the transaction with ID
// transactionID.
func (s Session) CaptureTransaction(ctx context.Context, transactionID string) error {
	_, err := s.c.SendAndListen(ctx, "capture", interactive.Params{
		"transactionID": transactionID,
	})
	return err
}

// An Input is a giveInput notification: one participant interaction with
// a control. Interactions that hold a charge carry a transaction ID to be
// captured.
type Input struct {
	ParticipantID string      `json:"participantID"`
	TransactionID string      `json:"transactionID,omitempty"`
	Input         InputDetail `json:"input"`
}

// An InputDetail identifies the control and the kind of interaction.
type InputDetail struct {
	ControlID string `json:"controlID"`
	Event     string `json:"event"`
}

// A GroupDelete is an onGroupDelete notification: the group was deleted
// and its participants moved to the reassignment group.
type GroupDelete struct {
	GroupID         string `json:"groupID"`
	ReassignGroupID string `json:"reassignGroupID"`
}

type participantChange struct {
	Participants []Participant `json:"participants"`
}

// OnInput subscribes fn to giveInput notifications.
func (s Session) OnInput(fn func(Input)) *interactive.Subscription {
	return s.c.Subscribe("giveInput", events.Decode(fn))
}

// OnParticipantJoin subscribes fn to onParticipantJoin notifications.
func (s Session) OnParticipantJoin(fn func([]Participant)) *interactive.Subscription {
	return s.c.Subscribe("onParticipantJoin", events.Decode(func(ch participantChange) {
		fn(ch.Participants)
	}))
}

// OnParticipantLeave subscribes fn to onParticipantLeave notifications.
func (s Session) OnParticipantLeave(fn func([]Participant)) *interactive.Subscription {
	return s.c.Subscribe("onParticipantLeave", events.Decode(func(ch participantChange) {
		fn(ch.Participants)
	}))
}

// OnGroupDelete subscribes fn to onGroupDelete notifications.
func (s Session) OnGroupDelete(fn func(GroupDelete)) *interactive.Subscription {
	return s.c.Subscribe("onGroupDelete", events.Decode(fn))
}
