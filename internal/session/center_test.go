package session

import (
	"log/slog"
	"testing"
)

type fakeGate struct{ status GateStatus }

func (g *fakeGate) Status() GateStatus { return g.status }
func (g *fakeGate) Close() error       { return nil }

func newTestSession(addr string) *Session {
	return New(addr, &fakeGate{status: GateReady}, slog.Default(), Hooks{})
}

func TestCenterBindAndLookup(t *testing.T) {
	c := NewCenter()
	s1 := newTestSession("a1")
	s2 := newTestSession("a2")

	c.Bind("alice@dim", s1)
	c.Bind("alice@dim", s2)

	got := c.Sessions("alice@dim")
	if len(got) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(got))
	}

	c.Unbind("alice@dim", s1)
	got = c.Sessions("alice@dim")
	if len(got) != 1 || got[0] != s2 {
		t.Fatalf("expected only s2 remaining, got %v", got)
	}

	c.Unbind("alice@dim", s2)
	if c.HasActiveUser("alice@dim") {
		t.Fatalf("expected no active sessions after unbinding all")
	}
}

func TestCenterStationSessions(t *testing.T) {
	c := NewCenter()
	s1 := newTestSession("n1")
	c.BindStation("station2@dim", s1)

	stations := c.ActiveStations()
	if len(stations) != 1 || stations[0] != "station2@dim" {
		t.Fatalf("expected [station2@dim], got %v", stations)
	}

	c.UnbindStation("station2@dim", s1)
	if len(c.ActiveStations()) != 0 {
		t.Fatalf("expected no active stations after unbind")
	}
}
