// SPDX-License-Identifier: MIT
package mediaroom

import (
	"context"
	"errors"
	"testing"
)

func TestIssueCredential(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()

	c := New(mock.URL, "test-key")
	cred, err := c.IssueCredential(context.Background(), "room-a", "agent-b-1", "agent")
	if err != nil {
		t.Fatalf("issue credential: %v", err)
	}
	if cred.Token == "" || cred.Room != "room-a" {
		t.Errorf("unexpected credential: %+v", cred)
	}
}

func TestListParticipantsLive(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()
	mock.SetParticipants("room-a", "caller-1", "agent-a-1")

	c := New(mock.URL, "")
	ids, err := c.ListParticipants(context.Background(), "room-a")
	if err != nil {
		t.Fatalf("list participants: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(ids))
	}

	// Membership changes must be visible on the next call, never cached.
	mock.SetParticipants("room-a", "caller-1")
	ids, err = c.ListParticipants(context.Background(), "room-a")
	if err != nil {
		t.Fatalf("list participants: %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("expected fresh membership of 1, got %d", len(ids))
	}
}

func TestSetMute(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()
	mock.SetParticipants("room-a", "caller-1")

	c := New(mock.URL, "")
	if err := c.SetMute(context.Background(), "room-a", "caller-1", true); err != nil {
		t.Fatalf("set mute: %v", err)
	}
	if !mock.Muted("room-a", "caller-1") {
		t.Error("expected caller-1 muted")
	}
}

func TestUpstreamErrorMapping(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()
	mock.FailNext("/rooms/token", 1)

	c := New(mock.URL, "")
	_, err := c.IssueCredential(context.Background(), "room-a", "caller-1", "participant")
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
	var ue *UpstreamError
	if !errors.As(err, &ue) || ue.Status != 500 {
		t.Errorf("expected wrapped 500, got %v", err)
	}
}

func TestTransportErrorMapping(t *testing.T) {
	c := New("http://127.0.0.1:1", "")
	_, err := c.ListParticipants(context.Background(), "room-a")
	if !errors.Is(err, ErrUnavailable) && !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected transport sentinel, got %v", err)
	}
}
