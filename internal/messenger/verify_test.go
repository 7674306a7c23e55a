package messenger

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/dim-network/station/internal/message"
	"github.com/dim-network/station/internal/store"
)

func TestDocumentVerifierAcceptsValidSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	accounts := store.NewMemoryAccountStore(nil)
	if err := accounts.PutDocument(context.Background(), store.Document{
		ID: "alice@dim", Type: visaDocType, Data: pub,
	}); err != nil {
		t.Fatalf("put document: %v", err)
	}

	v := NewDocumentVerifier(accounts)
	data := []byte("hello")
	msg := &message.ReliableMessage{
		Sender:    "alice@dim",
		Data:      data,
		Signature: ed25519.Sign(priv, data),
	}

	ok, err := v.Verify(context.Background(), msg)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatalf("expected signature to verify")
	}
}

func TestDocumentVerifierRejectsWrongSignature(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	_, otherPriv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	accounts := store.NewMemoryAccountStore(nil)
	if err := accounts.PutDocument(context.Background(), store.Document{
		ID: "alice@dim", Type: visaDocType, Data: pub,
	}); err != nil {
		t.Fatalf("put document: %v", err)
	}

	v := NewDocumentVerifier(accounts)
	data := []byte("hello")
	msg := &message.ReliableMessage{
		Sender:    "alice@dim",
		Data:      data,
		Signature: ed25519.Sign(otherPriv, data),
	}

	ok, err := v.Verify(context.Background(), msg)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatalf("expected signature verification to fail with mismatched key")
	}
}

func TestDocumentVerifierRejectsMissingVisa(t *testing.T) {
	accounts := store.NewMemoryAccountStore(nil)
	v := NewDocumentVerifier(accounts)
	msg := &message.ReliableMessage{Sender: "unknown@dim", Data: []byte("hi"), Signature: []byte("sig")}

	ok, err := v.Verify(context.Background(), msg)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatalf("expected verification to fail when no visa is on file")
	}
}
