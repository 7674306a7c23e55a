package store

import (
	"context"
	"testing"

	"github.com/dim-network/station/internal/message"
)

func msgWithSig(sig string) *message.ReliableMessage {
	return &message.ReliableMessage{
		Sender:    "bob@dim",
		Receiver:  "alice@dim",
		Signature: message.Bytes(sig),
		Data:      message.Bytes("ciphertext"),
	}
}

func TestMemoryMessageStoreIdempotentSave(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryMessageStore(0)

	m := msgWithSig("sig-1")
	ok, err := s.Save(ctx, "alice@dim", m)
	if err != nil || !ok {
		t.Fatalf("first save: ok=%v err=%v", ok, err)
	}
	ok, err = s.Save(ctx, "alice@dim", m)
	if err != nil || ok {
		t.Fatalf("second save should be idempotent false, got ok=%v err=%v", ok, err)
	}
}

func TestMemoryMessageStoreRemoveIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryMessageStore(0)
	m := msgWithSig("sig-1")
	if _, err := s.Save(ctx, "alice@dim", m); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove(ctx, "alice@dim", m.SignatureKey()); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove(ctx, "alice@dim", m.SignatureKey()); err != nil {
		t.Fatalf("second remove should be no-op, got err=%v", err)
	}
	n, _ := s.Count(ctx, "alice@dim")
	if n != 0 {
		t.Fatalf("expected 0 messages remaining, got %d", n)
	}
}

func TestMemoryMessageStoreFIFOAndFetch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryMessageStore(0)
	for i := 0; i < 5; i++ {
		if _, err := s.Save(ctx, "alice@dim", msgWithSig(string(rune('a'+i)))); err != nil {
			t.Fatal(err)
		}
	}
	got, remaining, err := s.Fetch(ctx, "alice@dim", 0, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || remaining != 2 {
		t.Fatalf("got %d messages, remaining=%d, want 3/2", len(got), remaining)
	}
	if string(got[0].Signature) != "a" || string(got[2].Signature) != "c" {
		t.Fatalf("FIFO order violated: %v", got)
	}
}

func TestMemoryMessageStoreOverflowDropsOldest(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryMessageStore(8)
	for i := 0; i < 10; i++ {
		if _, err := s.Save(ctx, "alice@dim", msgWithSig(string(rune('a'+i)))); err != nil {
			t.Fatal(err)
		}
	}
	got, remaining, err := s.Fetch(ctx, "alice@dim", 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 8 {
		t.Fatalf("expected cap of 8 messages, got %d", len(got))
	}
	if remaining != 0 {
		t.Fatalf("expected 0 remaining, got %d", remaining)
	}
	if string(got[0].Signature) == "a" {
		t.Fatalf("expected first message 'a' to be evicted")
	}
	if s.DroppedCount() != 2 {
		t.Fatalf("expected 2 drops, got %d", s.DroppedCount())
	}
}

func TestMemoryMessageStoreNegativeStart(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryMessageStore(0)
	for i := 0; i < 4; i++ {
		if _, err := s.Save(ctx, "alice@dim", msgWithSig(string(rune('a'+i)))); err != nil {
			t.Fatal(err)
		}
	}
	got, remaining, err := s.Fetch(ctx, "alice@dim", -2, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || remaining != 0 {
		t.Fatalf("got %d messages remaining=%d, want 2/0", len(got), remaining)
	}
	if string(got[0].Signature) != "c" {
		t.Fatalf("expected tail-2 slice starting at 'c', got %v", got)
	}
}
