package messenger

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dim-network/station/internal/ident"
	"github.com/dim-network/station/internal/message"
	"github.com/dim-network/station/internal/session"
	"github.com/dim-network/station/internal/store"
)

type fakeGate struct{}

func (fakeGate) Status() session.GateStatus { return session.GateReady }
func (fakeGate) Close() error               { return nil }

func newTestSession() *session.Session {
	return session.New("127.0.0.1:0", fakeGate{}, slog.Default(), session.Hooks{})
}

type staticResolver struct {
	groups map[string]struct{}
	bots   map[string]struct{}
}

func (r staticResolver) Type(_ context.Context, id string) ident.EntityType {
	if _, ok := r.groups[id]; ok {
		return ident.TypeGroup
	}
	if _, ok := r.bots[id]; ok {
		return ident.TypeBot
	}
	return ident.TypeUser
}

type alwaysValid struct{}

func (alwaysValid) Verify(context.Context, *message.ReliableMessage) (bool, error) { return true, nil }

type stubDispatcher struct {
	called   bool
	receiver ident.ID
}

func (d *stubDispatcher) Deliver(_ context.Context, _ *message.ReliableMessage, receiver ident.ID) ([]*message.Content, error) {
	d.called = true
	d.receiver = receiver
	return nil, nil
}

func newTestMessenger(t *testing.T, dispatcher Dispatcher) (*Messenger, *session.Center) {
	t.Helper()
	center := session.NewCenter()
	filter := NewFilter("station1@dim")
	resolver := staticResolver{groups: map[string]struct{}{}, bots: map[string]struct{}{}}
	accounts := store.NewMemoryAccountStore(nil)
	logins := store.NewMemoryLoginStore()
	proc := NewProcessor("station1@dim", center, accounts, logins, nil, nil, slog.Default())
	m := New("station1@dim", filter, center, resolver, alwaysValid{}, dispatcher, proc, slog.Default())
	return m, center
}

func TestMessengerHandshakeRoundTrip(t *testing.T) {
	m, _ := newTestMessenger(t, nil)
	sess := newTestSession()
	ctx := context.Background()

	offer := &message.Content{Type: "handshake"}
	offer.Set("title", titleHello)
	data, _ := offer.MarshalJSON()

	msg := &message.ReliableMessage{Sender: "alice@dim", Receiver: "station1@dim", Data: data}
	replies, err := m.Process(ctx, msg, sess)
	if err != nil {
		t.Fatalf("process offer: %v", err)
	}
	if len(replies) != 1 {
		t.Fatalf("expected one challenge reply, got %d", len(replies))
	}
	sessionKey, _ := replies[0].Get("session")
	if sessionKey != sess.Key() {
		t.Fatalf("challenge session key mismatch: got %v want %s", sessionKey, sess.Key())
	}

	respond := &message.Content{Type: "handshake"}
	respond.Set("title", titleHello)
	respond.Set("session", sess.Key())
	data2, _ := respond.MarshalJSON()
	msg2 := &message.ReliableMessage{Sender: "alice@dim", Receiver: "station1@dim", Data: data2}

	replies2, err := m.Process(ctx, msg2, sess)
	if err != nil {
		t.Fatalf("process response: %v", err)
	}
	if len(replies2) != 1 {
		t.Fatalf("expected one accept reply, got %d", len(replies2))
	}
	title, _ := replies2[0].Get("title")
	if title != titleOK {
		t.Fatalf("expected DIM! accept, got %v", title)
	}
	if sess.Identifier() != "alice@dim" {
		t.Fatalf("expected session bound to alice@dim, got %q", sess.Identifier())
	}
	if !sess.Active() {
		t.Fatalf("expected session active after handshake")
	}
}

func TestMessengerCycleDropsTracedStationMessage(t *testing.T) {
	dispatcher := &stubDispatcher{}
	m, _ := newTestMessenger(t, dispatcher)
	sess := newTestSession()
	sess.SetIdentifier("alice@dim")
	sess.SetActive(true, time.Now())

	msg := &message.ReliableMessage{
		Sender:   "alice@dim",
		Receiver: "station1@dim",
		Traces:   []string{"station1@dim"},
		Data:     mustMarshal(t, &message.Content{Type: "handshake"}),
	}
	replies, err := m.Process(context.Background(), msg, sess)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if replies != nil {
		t.Fatalf("expected cycled message to be silently dropped, got %v", replies)
	}
}

func TestMessengerSessionGateForcesRehandshake(t *testing.T) {
	dispatcher := &stubDispatcher{}
	m, _ := newTestMessenger(t, dispatcher)
	sess := newTestSession()
	// sess has no identifier and is not active: any non-local destination
	// must be met with a forced re-handshake, not forwarded to dispatch.
	msg := &message.ReliableMessage{
		Sender:   "bob@dim",
		Receiver: "alice@dim",
		Data:     mustMarshal(t, &message.Content{Type: "text"}),
	}
	replies, err := m.Process(context.Background(), msg, sess)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if dispatcher.called {
		t.Fatalf("dispatcher must not be invoked before session is authenticated")
	}
	if len(replies) != 1 {
		t.Fatalf("expected a DIM? challenge, got %v", replies)
	}
	title, _ := replies[0].Get("title")
	if title != titleWhich {
		t.Fatalf("expected DIM? challenge, got %v", title)
	}
}

func TestMessengerDispatchesUserMessageWhenAuthenticated(t *testing.T) {
	dispatcher := &stubDispatcher{}
	m, _ := newTestMessenger(t, dispatcher)
	sess := newTestSession()
	sess.SetIdentifier("bob@dim")
	sess.SetActive(true, time.Now())

	msg := &message.ReliableMessage{
		Sender:   "bob@dim",
		Receiver: "alice@dim",
		Data:     mustMarshal(t, &message.Content{Type: "text"}),
	}
	_, err := m.Process(context.Background(), msg, sess)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !dispatcher.called {
		t.Fatalf("expected dispatcher to be invoked for an authenticated user message")
	}
	if dispatcher.receiver.String() != "alice@dim" {
		t.Fatalf("expected receiver alice@dim, got %s", dispatcher.receiver.String())
	}
}

func mustMarshal(t *testing.T, c *message.Content) []byte {
	t.Helper()
	data, err := c.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal content: %v", err)
	}
	return data
}
