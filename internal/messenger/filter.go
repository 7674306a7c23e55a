// Package messenger implements the per-message verify/classify/process
// pipeline (§4.4): cycle detection, trust shortcuts, destination
// classification, the session gate, and response packaging.
package messenger

import (
	"sync"

	"github.com/dim-network/station/internal/message"
)

// Filter implements §4.4 step 1 (cycle detection via traces) and step 2
// (trust shortcut + block list), mirroring the teacher's small, pure
// validation helpers (e.g. internal/bfd/discriminator.go) rather than
// folding everything into one monolithic Messenger method.
type Filter struct {
	localStationID string

	mu        sync.RWMutex
	neighbors map[string]struct{}
	blocked   map[string]struct{}
}

// NewFilter creates a Filter for the station identified by localStationID.
func NewFilter(localStationID string) *Filter {
	return &Filter{
		localStationID: localStationID,
		neighbors:      make(map[string]struct{}),
		blocked:        make(map[string]struct{}),
	}
}

// SetNeighbors replaces the set of trusted peer-station IDs (§4.4 step 2:
// "or is a neighbor station (trusted peer)").
func (f *Filter) SetNeighbors(ids []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	f.neighbors = set
}

// Block adds id to the block list.
func (f *Filter) Block(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocked[id] = struct{}{}
}

// Unblock removes id from the block list.
func (f *Filter) Unblock(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.blocked, id)
}

// IsBlocked reports whether id is on the block list.
func (f *Filter) IsBlocked(id string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, blocked := f.blocked[id]
	return blocked
}

// IsNeighbor reports whether id is a configured/connected trusted peer
// station.
func (f *Filter) IsNeighbor(id string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.neighbors[id]
	return ok
}

// CycleResult is the outcome of CheckCycle.
type CycleResult struct {
	// Cycled is true when the local station ID was already present in
	// traces — the message must be dropped (§4.4 step 1, §8 property:
	// "station's ID appears in traces at most once").
	Cycled bool
}

// CheckCycle implements §4.4 step 1: if traces already contains the local
// station ID, and the receiver is a station or broadcast, the message must
// be dropped by the caller. Otherwise the local station ID is appended.
// receiverIsStationOrBroadcast is supplied by the caller (classification
// happens in the messenger, not the filter) to keep Filter free of
// identifier-type knowledge.
func (f *Filter) CheckCycle(msg *message.ReliableMessage, receiverIsStationOrBroadcast bool) CycleResult {
	if msg.HasTraced(f.localStationID) {
		if receiverIsStationOrBroadcast {
			return CycleResult{Cycled: true}
		}
	}
	msg.AppendTrace(f.localStationID)
	return CycleResult{Cycled: false}
}

// TrustShortcut implements §4.4 step 2's "skip signature verification"
// condition: the sender is the session's own authenticated identifier, or
// the sender is a trusted neighbor station.
func (f *Filter) TrustShortcut(senderID string, sessionIdentifier string) bool {
	if sessionIdentifier != "" && senderID == sessionIdentifier {
		return true
	}
	return f.IsNeighbor(senderID)
}
