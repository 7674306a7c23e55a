// Package octopus implements the edge bridge (§4.11): an inner client
// session to the local station and one outer client session per known
// peer station, fanning reliable messages between them with cycle
// suppression.
package octopus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dim-network/station/internal/message"
	"github.com/dim-network/station/internal/session"
)

func marshal(msg *message.ReliableMessage) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("octopus: marshal message: %w", err)
	}
	return data, nil
}

// Peer is the minimal surface the bridge needs from one outer connection:
// push an outbound Departure to it.
type Peer interface {
	Push(d session.Departure) error
}

// Bridge holds the inner session (to the local station) and the outer
// sessions (one per known peer station), and classifies/routes reliable
// messages between them (§4.11).
type Bridge struct {
	localID string // the octopus's own station identifier
	inner   Peer

	mu    sync.RWMutex
	outer map[string]Peer

	logger *slog.Logger
}

// New constructs a Bridge. localID is the identifier the octopus itself
// presents to both sides (its own station commands are processed locally,
// not forwarded).
func New(localID string, inner Peer, logger *slog.Logger) *Bridge {
	return &Bridge{localID: localID, inner: inner, outer: make(map[string]Peer), logger: logger}
}

// SetPeer registers (or replaces) the outer session for peerStationID.
func (b *Bridge) SetPeer(peerStationID string, peer Peer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outer[peerStationID] = peer
}

// RemovePeer drops the outer session for peerStationID.
func (b *Bridge) RemovePeer(peerStationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.outer, peerStationID)
}

// LocalCommandHandler processes reliable messages addressed to the
// octopus's own station identifier (§4.11: "processed normally
// (handshake etc.)"), typically the same Messenger the inner session
// would otherwise forward into.
type LocalCommandHandler interface {
	HandleLocal(ctx context.Context, msg *message.ReliableMessage) error
}

// HandleFromOuter processes a reliable message that arrived from peer
// (an outer connection). Cycled and self-addressed messages are dropped;
// messages addressed to the bridge's own identifier are handed to local;
// everything else is incoming traffic, forwarded to the inner session.
func (b *Bridge) HandleFromOuter(ctx context.Context, msg *message.ReliableMessage, peer string, local LocalCommandHandler) error {
	if msg.Sender == msg.Receiver {
		return nil
	}
	if msg.Receiver == b.localID {
		if local == nil {
			return nil
		}
		return local.HandleLocal(ctx, msg)
	}
	return b.forwardInner(msg)
}

func (b *Bridge) forwardInner(msg *message.ReliableMessage) error {
	payload, err := marshal(msg)
	if err != nil {
		return err
	}
	if err := b.inner.Push(session.Departure{Payload: payload, Priority: session.PriorityNormal}); err != nil {
		return fmt.Errorf("octopus: forward to inner session: %w", err)
	}
	return nil
}

// HandleFromInner processes a reliable message that arrived from the
// inner session (the local station) destined for the outside world.
// Outgoing fan-out visits each known peer at most once, tracked via
// msg.Recipients so a message re-entering the bridge does not re-visit a
// peer (§4.11). If pinnedNeighbor is non-empty, the forward is pinned to
// exactly that one peer.
func (b *Bridge) HandleFromInner(ctx context.Context, msg *message.ReliableMessage, pinnedNeighbor string) error {
	if msg.Sender == msg.Receiver {
		return nil
	}
	if msg.Receiver == b.localID {
		return nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if pinnedNeighbor != "" {
		peer, ok := b.outer[pinnedNeighbor]
		if !ok {
			return fmt.Errorf("octopus: no outer session for pinned neighbor %s", pinnedNeighbor)
		}
		return b.sendTo(msg, pinnedNeighbor, peer)
	}

	visited := msg.RecipientSet()
	var newlyVisited []string
	var firstErr error
	for peerID, peer := range b.outer {
		if _, already := visited[peerID]; already {
			continue
		}
		if err := b.sendTo(msg, peerID, peer); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		newlyVisited = append(newlyVisited, peerID)
	}
	msg.MergeRecipients(newlyVisited)
	return firstErr
}

func (b *Bridge) sendTo(msg *message.ReliableMessage, peerID string, peer Peer) error {
	branch := msg.Clone()
	payload, err := marshal(branch)
	if err != nil {
		return err
	}
	if err := peer.Push(session.Departure{Payload: payload, Priority: session.PriorityNormal}); err != nil {
		b.logger.Warn("octopus: forward to outer peer failed",
			slog.String("peer", peerID), slog.String("error", err.Error()))
		return err
	}
	return nil
}
