package messenger

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/dim-network/station/internal/message"
	"github.com/dim-network/station/internal/store"
)

// visaDocType is the document type holding an entity's current public key
// (§6: "public/{address}/documents/{type}.js"), consulted to verify an
// envelope's signature.
const visaDocType = "visa"

// DocumentVerifier implements Verifier against an AccountStore: it loads
// the sender's visa document, treats its Data as a raw ed25519 public key,
// and checks Signature over Data. Real DIM deployments carry a richer
// meta/visa envelope (RSA or multi-algorithm); this exercise's domain
// stack carries no such parser, so ed25519 from the standard library is
// the simplest concrete verifier satisfying the interface (see DESIGN.md).
type DocumentVerifier struct {
	accounts store.AccountStore
}

// NewDocumentVerifier constructs a DocumentVerifier backed by accounts.
func NewDocumentVerifier(accounts store.AccountStore) *DocumentVerifier {
	return &DocumentVerifier{accounts: accounts}
}

// Verify implements Verifier. A sender with no stored visa cannot be
// verified and fails closed (§4.4 step 2 treats this the same as a
// signature mismatch: the message is dropped).
func (v *DocumentVerifier) Verify(ctx context.Context, msg *message.ReliableMessage) (bool, error) {
	doc, ok, err := v.accounts.Document(ctx, msg.Sender, visaDocType)
	if err != nil {
		return false, fmt.Errorf("load visa for %s: %w", msg.Sender, err)
	}
	if !ok || len(doc.Data) != ed25519.PublicKeySize {
		return false, nil
	}
	return ed25519.Verify(ed25519.PublicKey(doc.Data), msg.Data, msg.Signature), nil
}
