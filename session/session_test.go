// Copyright (C) 2025 Cloud System Implementation. All Rights Reserved.

package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"

	interactive "github.com/Cloud-System-Implementation/StreamingClientLibrary"
	"github.com/Cloud-System-Implementation/StreamingClientLibrary/servertest"
	"github.com/Cloud-System-Implementation/StreamingClientLibrary/session"
)

// newSession returns a session bound to a client connected to a fresh
// test server. Both are shut down when the test ends.
func newSession(t *testing.T, srv *servertest.Server) session.Session {
	t.Helper()
	t.Cleanup(func() { srv.Close() })

	c := interactive.New(interactive.WithDial(srv.Dial))
	t.Cleanup(func() { c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx, interactive.Endpoint{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return session.New(c)
}

// received returns the params of every recorded envelope for method, in
// arrival order.
func received(srv *servertest.Server, method string) []interactive.Params {
	var out []interactive.Params
	for _, env := range srv.Received() {
		if env.Method == method {
			out = append(out, env.Params)
		}
	}
	return out
}

func TestSessionUsage(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	wantScenes := []session.Scene{
		{ID: "default", Controls: []session.Control{{
			ID: "play", Kind: "button", Text: "Play", Cost: 5,
			Position: []session.Position{{Size: "large", Width: 10, Height: 8, X: 0, Y: 0}},
		}}},
		{ID: "lobby"},
	}
	participants := []session.Participant{
		{SessionID: "s1", UserID: 11, Username: "ayla", Connected: 100, GroupID: "default"},
		{SessionID: "s2", UserID: 12, Username: "bo", Connected: 200, GroupID: "default"},
		{SessionID: "s3", UserID: 13, Username: "cris", Connected: 300, GroupID: "blue"},
	}

	srv := servertest.New().
		Handle("getScenes", func(interactive.Params) (interactive.Params, *interactive.ReplyError) {
			return interactive.Params{"scenes": wantScenes}, nil
		}).
		Handle("createGroups", func(interactive.Params) (interactive.Params, *interactive.ReplyError) {
			return nil, nil
		}).
		Handle("updateGroups", func(params interactive.Params) (interactive.Params, *interactive.ReplyError) {
			return interactive.Params{"groups": params.Get("groups")}, nil
		}).
		Handle("deleteGroup", func(interactive.Params) (interactive.Params, *interactive.ReplyError) {
			return nil, nil
		}).
		Handle("createControls", func(interactive.Params) (interactive.Params, *interactive.ReplyError) {
			return nil, nil
		}).
		Handle("updateControls", func(params interactive.Params) (interactive.Params, *interactive.ReplyError) {
			return interactive.Params{"controls": params.Get("controls")}, nil
		}).
		Handle("deleteControls", func(interactive.Params) (interactive.Params, *interactive.ReplyError) {
			return nil, nil
		}).
		Handle("getAllParticipants", func(params interactive.Params) (interactive.Params, *interactive.ReplyError) {
			if params.GetInt("from") == 0 {
				return interactive.Params{
					"participants": participants[:2], "total": 3, "hasMore": true,
				}, nil
			}
			return interactive.Params{
				"participants": participants[2:], "total": 3, "hasMore": false,
			}, nil
		}).
		Handle("updateParticipants", func(interactive.Params) (interactive.Params, *interactive.ReplyError) {
			return nil, nil
		}).
		Handle("capture", func(params interactive.Params) (interactive.Params, *interactive.ReplyError) {
			if params.GetString("transactionID") == "" {
				return nil, &interactive.ReplyError{Code: 4007, Message: "unknown transaction"}
			}
			return nil, nil
		})

	s := newSession(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("Scenes", func(t *testing.T) {
		got, err := s.Scenes(ctx)
		if err != nil {
			t.Fatalf("Scenes: %v", err)
		}
		if diff := cmp.Diff(wantScenes, got); diff != "" {
			t.Errorf("Scenes (-want, +got):\n%s", diff)
		}
	})

	t.Run("Groups", func(t *testing.T) {
		if err := s.CreateGroups(ctx, session.Group{ID: "blue", SceneID: "lobby"}); err != nil {
			t.Fatalf("CreateGroups: %v", err)
		}
		got, err := s.UpdateGroups(ctx, session.Group{ID: "blue", SceneID: "default"})
		if err != nil {
			t.Fatalf("UpdateGroups: %v", err)
		}
		want := []session.Group{{ID: "blue", SceneID: "default"}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("UpdateGroups (-want, +got):\n%s", diff)
		}
	})

	t.Run("DeleteGroup", func(t *testing.T) {
		if err := s.DeleteGroup(ctx, "blue", "default"); err != nil {
			t.Fatalf("DeleteGroup: %v", err)
		}
		reqs := received(srv, "deleteGroup")
		if len(reqs) != 1 {
			t.Fatalf("Got %d deleteGroup requests, want 1", len(reqs))
		}
		if got := reqs[0].GetString("groupID"); got != "blue" {
			t.Errorf("groupID: got %q, want %q", got, "blue")
		}
		if got := reqs[0].GetString("reassignGroupID"); got != "default" {
			t.Errorf("reassignGroupID: got %q, want %q", got, "default")
		}
	})

	t.Run("Controls", func(t *testing.T) {
		ctl := session.Control{
			ID: "jump", Kind: "button", Text: "Jump", Cost: 10,
			Position: []session.Position{{Size: "large", Width: 6, Height: 4, X: 2, Y: 1}},
		}
		if err := s.CreateControls(ctx, "default", ctl); err != nil {
			t.Fatalf("CreateControls: %v", err)
		}
		got, err := s.UpdateControls(ctx, "default", ctl)
		if err != nil {
			t.Fatalf("UpdateControls: %v", err)
		}
		if diff := cmp.Diff([]session.Control{ctl}, got); diff != "" {
			t.Errorf("UpdateControls (-want, +got):\n%s", diff)
		}
		if err := s.DeleteControls(ctx, "default", "jump"); err != nil {
			t.Fatalf("DeleteControls: %v", err)
		}
		reqs := received(srv, "deleteControls")
		if len(reqs) != 1 || reqs[0].GetString("sceneID") != "default" {
			t.Errorf("deleteControls requests: got %+v, want one for scene default", reqs)
		}
	})

	t.Run("Participants", func(t *testing.T) {
		got, err := s.Participants(ctx)
		if err != nil {
			t.Fatalf("Participants: %v", err)
		}
		if diff := cmp.Diff(participants, got); diff != "" {
			t.Errorf("Participants (-want, +got):\n%s", diff)
		}

		// The second page was requested from the last connection time of
		// the first.
		reqs := received(srv, "getAllParticipants")
		if len(reqs) != 2 {
			t.Fatalf("Got %d getAllParticipants requests, want 2", len(reqs))
		}
		if got := reqs[1].GetInt("from"); got != 200 {
			t.Errorf("Second page cursor: got %d, want 200", got)
		}
	})

	t.Run("UpdateParticipants", func(t *testing.T) {
		p := participants[0]
		p.GroupID = "blue"
		if err := s.UpdateParticipants(ctx, p); err != nil {
			t.Fatalf("UpdateParticipants: %v", err)
		}
	})

	t.Run("Capture", func(t *testing.T) {
		if err := s.CaptureTransaction(ctx, "txn-123"); err != nil {
			t.Fatalf("CaptureTransaction: %v", err)
		}
		reqs := received(srv, "capture")
		if len(reqs) != 1 || reqs[0].GetString("transactionID") != "txn-123" {
			t.Errorf("capture requests: got %+v, want one for txn-123", reqs)
		}
	})

	t.Run("ServerError", func(t *testing.T) {
		err := s.CaptureTransaction(ctx, "")
		var ce *interactive.CallError
		if !errors.As(err, &ce) || ce.ServerError() == nil || ce.ServerError().Code != 4007 {
			t.Errorf("CaptureTransaction: got %v, want server error 4007", err)
		}
	})
}

func TestSessionEvents(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	srv := servertest.New()
	s := newSession(t, srv)

	inputs := make(chan session.Input, 1)
	s.OnInput(func(in session.Input) { inputs <- in })

	deletes := make(chan session.GroupDelete, 1)
	s.OnGroupDelete(func(gd session.GroupDelete) { deletes <- gd })

	joins := make(chan []session.Participant, 1)
	s.OnParticipantJoin(func(ps []session.Participant) { joins <- ps })

	if err := srv.Push("giveInput", interactive.Params{
		"participantID": "s1",
		"transactionID": "txn-9",
		"input":         interactive.Params{"controlID": "jump", "event": "mousedown"},
	}); err != nil {
		t.Fatalf("Push: %v", err)
	}
	wantIn := session.Input{
		ParticipantID: "s1",
		TransactionID: "txn-9",
		Input:         session.InputDetail{ControlID: "jump", Event: "mousedown"},
	}
	if diff := cmp.Diff(wantIn, <-inputs); diff != "" {
		t.Errorf("Input (-want, +got):\n%s", diff)
	}

	if err := srv.Push("onGroupDelete", interactive.Params{
		"groupID":         "blue",
		"reassignGroupID": "default",
	}); err != nil {
		t.Fatalf("Push: %v", err)
	}
	wantGD := session.GroupDelete{GroupID: "blue", ReassignGroupID: "default"}
	if diff := cmp.Diff(wantGD, <-deletes); diff != "" {
		t.Errorf("GroupDelete (-want, +got):\n%s", diff)
	}

	if err := srv.Push("onParticipantJoin", interactive.Params{
		"participants": []session.Participant{{SessionID: "s4", Username: "dov", Connected: 400}},
	}); err != nil {
		t.Fatalf("Push: %v", err)
	}
	wantPs := []session.Participant{{SessionID: "s4", Username: "dov", Connected: 400}}
	if diff := cmp.Diff(wantPs, <-joins); diff != "" {
		t.Errorf("Participants (-want, +got):\n%s", diff)
	}
}
