package session

import (
	"log/slog"
	"testing"
	"time"
)

func TestSessionSetIdentifierBindsOnceAndReloads(t *testing.T) {
	var reloaded []string
	s := New("a1", &fakeGate{status: GateReady}, slog.Default(), Hooks{
		ReloadOffline: func(_ *Session, id string) { reloaded = append(reloaded, id) },
	})

	s.SetIdentifier("alice@dim")
	if s.Identifier() != "alice@dim" {
		t.Fatalf("Identifier() = %q, want alice@dim", s.Identifier())
	}
	if !s.HasKey() {
		t.Fatalf("expected HasKey true after first SetIdentifier")
	}

	s.SetIdentifier("mallory@dim")
	if s.Identifier() != "alice@dim" {
		t.Fatalf("second SetIdentifier with a different value must not rebind; got %q", s.Identifier())
	}

	if len(reloaded) != 2 {
		t.Fatalf("expected ReloadOffline called for both SetIdentifier calls, got %d", len(reloaded))
	}
	for _, id := range reloaded {
		if id != "alice@dim" {
			t.Fatalf("ReloadOffline called with %q, want alice@dim", id)
		}
	}
}

func TestSessionSetActiveLaterWhenWins(t *testing.T) {
	var reloads int
	s := New("a1", &fakeGate{status: GateReady}, slog.Default(), Hooks{
		ReloadOffline: func(_ *Session, _ string) { reloads++ },
	})
	s.SetIdentifier("alice@dim")
	reloads = 0

	now := time.Now()
	s.SetActive(true, now)
	if !s.Active() {
		t.Fatalf("expected Active() true")
	}
	if reloads != 1 {
		t.Fatalf("expected one reload on activation with identifier bound, got %d", reloads)
	}

	earlier := now.Add(-time.Second)
	s.SetActive(false, earlier)
	if !s.Active() {
		t.Fatalf("an earlier timestamp must not override a later SetActive call")
	}
}

func TestSessionClearKeyResetsIdentityAndKey(t *testing.T) {
	s := New("a1", &fakeGate{status: GateReady}, slog.Default(), Hooks{})
	s.SetIdentifier("alice@dim")

	s.ClearKey()

	if s.HasKey() {
		t.Fatalf("expected HasKey false after ClearKey")
	}
	if s.Identifier() != "" {
		t.Fatalf("expected Identifier cleared, got %q", s.Identifier())
	}
}

// SetIdentifier marks the handshake key issued as part of the same call
// that binds the identifier, so a Tick-driven session that reaches
// StateConnected this way already satisfies HasKey and settles there
// rather than advancing into Handshaking; the real first handshake round
// trip is driven by the processor, not by Tick. This test pins that
// observed behavior.
func TestSessionTickSettlesAtConnectedWhenIdentifierPreBound(t *testing.T) {
	gate := &fakeGate{status: GateReady}
	var handshakeFired bool
	s := New("a1", gate, slog.Default(), Hooks{
		InitiateHandshake: func(_ *Session) { handshakeFired = true },
	})
	s.SetIdentifier("alice@dim")

	s.Tick(time.Now())
	if s.State() != StateConnecting {
		t.Fatalf("expected StateConnecting after first tick, got %v", s.State())
	}

	s.Tick(time.Now())
	if s.State() != StateConnected {
		t.Fatalf("expected StateConnected after second tick, got %v", s.State())
	}

	s.Tick(time.Now())
	if s.State() != StateConnected {
		t.Fatalf("expected session to remain StateConnected with HasKey already true, got %v", s.State())
	}
	if handshakeFired {
		t.Fatalf("expected InitiateHandshake not to fire once SetIdentifier already issued the key")
	}
}

func TestSessionTickStaysInDefaultWithoutIdentifier(t *testing.T) {
	gate := &fakeGate{status: GateReady}
	s := New("a1", gate, slog.Default(), Hooks{})

	s.Tick(time.Now())
	if s.State() != StateDefault {
		t.Fatalf("expected StateDefault while no identifier is bound, got %v", s.State())
	}
}

func TestSessionStopClosesQueueAndGate(t *testing.T) {
	var dropped bool
	s := New("a1", &fakeGate{status: GateReady}, slog.Default(), Hooks{},
		WithOverflow(func(Departure) { dropped = true }))
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	s.Queue().Push(Departure{Payload: []byte("x")})
	if !dropped {
		t.Fatalf("expected a push after Stop to be dropped via the overflow callback")
	}
	if s.Queue().Len() != 0 {
		t.Fatalf("expected queue to remain empty after Stop closed it")
	}
}
