package messenger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dim-network/station/internal/ident"
	"github.com/dim-network/station/internal/message"
	"github.com/dim-network/station/internal/session"
)

// Verifier checks a ReliableMessage's signature against the sender's known
// meta/visa key. Kept as a small interface (like the teacher's
// discriminator helpers); DocumentVerifier in verify.go is the Ed25519
// implementation cmd/station wires in.
type Verifier interface {
	Verify(ctx context.Context, msg *message.ReliableMessage) (bool, error)
}

// TypeResolver answers "what kind of entity is this ID" for classification
// (§4.4 step 3), backed by the account store / ANS registry / configured
// group set.
type TypeResolver interface {
	Type(ctx context.Context, id string) ident.EntityType
}

// Dispatcher is the subset of the dispatcher package's API the messenger
// needs. Declared here (rather than imported as a concrete type) so
// internal/dispatcher can depend on internal/messenger's types without a
// cycle; cmd/station wires the concrete *dispatcher.Dispatcher in.
type Dispatcher interface {
	Deliver(ctx context.Context, msg *message.ReliableMessage, receiver ident.ID) ([]*message.Content, error)
}

// Destination classifies where an inbound message's receiver routes to
// (§4.4 step 3).
type Destination uint8

const (
	DestLocalStation Destination = iota
	DestLocalAnonymous
	DestBroadcast
	DestGroup
	DestBot
	DestUser
)

// ErrSignatureInvalid is returned when verification fails and the message
// must be dropped.
var ErrSignatureInvalid = fmt.Errorf("messenger: signature verification failed")

// Messenger runs the per-message verify/classify/decide pipeline (§4.4).
type Messenger struct {
	localStationID string
	filter         *Filter
	center         *session.Center
	resolver       TypeResolver
	verifier       Verifier
	dispatcher     Dispatcher
	processor      *Processor
	logger         *slog.Logger
}

// New constructs a Messenger. processor may be nil only in tests that don't
// exercise local command handling.
func New(localStationID string, filter *Filter, center *session.Center, resolver TypeResolver, verifier Verifier, dispatcher Dispatcher, processor *Processor, logger *slog.Logger) *Messenger {
	return &Messenger{
		localStationID: localStationID,
		filter:         filter,
		center:         center,
		resolver:       resolver,
		verifier:       verifier,
		dispatcher:     dispatcher,
		processor:      processor,
		logger:         logger,
	}
}

// classify implements §4.4 step 3's predicate chain.
func (m *Messenger) classify(ctx context.Context, receiver string) (ident.ID, Destination) {
	if receiver == m.localStationID {
		return ident.New(receiver, "", "", ident.TypeStation), DestLocalStation
	}

	kind := m.resolver.Type(ctx, receiver)
	id := ident.Parse(receiver, kind)

	if id.Equal(ident.StationAny) || id.Equal(ident.Anyone) {
		return id, DestLocalAnonymous
	}
	if id.IsBroadcast() {
		return id, DestBroadcast
	}
	if id.IsGroup() {
		return id, DestGroup
	}
	if id.Type() == ident.TypeBot {
		return id, DestBot
	}
	return id, DestUser
}

// Process runs the full pipeline for one inbound message arriving on sess
// and returns the response Contents the caller should wrap and send back to
// the sender (possibly empty).
func (m *Messenger) Process(ctx context.Context, msg *message.ReliableMessage, sess *session.Session) ([]*message.Content, error) {
	receiverID, dest := m.classify(ctx, msg.Receiver)

	isStationOrBroadcast := dest == DestLocalStation || dest == DestBroadcast || receiverID.IsStation()
	if cr := m.filter.CheckCycle(msg, isStationOrBroadcast); cr.Cycled {
		m.logger.Debug("dropping cycled message",
			slog.String("sender", msg.Sender), slog.String("receiver", msg.Receiver))
		return nil, nil
	}

	if !m.filter.TrustShortcut(msg.Sender, sess.Identifier()) {
		ok, err := m.verifier.Verify(ctx, msg)
		if err != nil {
			return nil, fmt.Errorf("verify message: %w", err)
		}
		if !ok {
			m.logger.Warn("signature verification failed", slog.String("sender", msg.Sender))
			return nil, ErrSignatureInvalid
		}
	}

	// Session-gate (§4.4 step 4): every destination except the local
	// station's own commands and plaintext broadcasts requires an
	// authenticated, active session.
	requiresGate := dest != DestLocalStation && dest != DestLocalAnonymous
	if requiresGate && !(sess.Active() && sess.Identifier() != "") {
		return []*message.Content{handshakeChallenge(sess.Key())}, nil
	}

	switch dest {
	case DestLocalStation, DestLocalAnonymous:
		if m.processor == nil {
			return nil, nil
		}
		content, err := decodeContent(msg)
		if err != nil {
			return nil, err
		}
		reply, err := m.processor.Handle(ctx, msg, sess, content)
		if err != nil {
			return nil, err
		}
		if reply != nil {
			return []*message.Content{reply}, nil
		}
		return nil, nil
	default:
		if m.dispatcher == nil {
			return nil, fmt.Errorf("messenger: no dispatcher configured for destination %v", dest)
		}
		return m.dispatcher.Deliver(ctx, msg, receiverID)
	}
}

func decodeContent(msg *message.ReliableMessage) (*message.Content, error) {
	// Local-command envelopes carry the command JSON directly in Data for
	// pre-handshake/plaintext traffic; authenticated commands arrive
	// decrypted by the caller before Process is invoked. Either way the
	// payload is a Content JSON document.
	var c message.Content
	if err := c.UnmarshalJSON(msg.Data); err != nil {
		return nil, fmt.Errorf("decode local command content: %w", err)
	}
	return &c, nil
}

func handshakeChallenge(sessionKey string) *message.Content {
	c := message.NewContent("handshake", 0, time.Now())
	c.Set("title", "DIM?")
	c.Set("session", sessionKey)
	return c
}
