package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dim-network/station/internal/ident"
	"github.com/dim-network/station/internal/message"
	"github.com/dim-network/station/internal/session"
	"github.com/dim-network/station/internal/store"
)

// neighborSnapshotTTL is the recompute interval for the broadcast neighbor
// set (§4.7, §5: "recomputed at most every ~128s behind a mutex").
const neighborSnapshotTTL = 128 * time.Second

// BroadcastManager implements §4.7's candidate-set assembly and recipient
// merge for EVERYONE / Station.EVERY / name@anywhere expansion.
//
// The neighbor snapshot is cached in an expirable LRU keyed by a single
// constant — an odd-looking use of a cache library for one entry, but it is
// the grounded, already-present TTL-cache primitive (promoted from the
// teacher's indirect hashicorp/golang-lru dependency) rather than a
// hand-rolled timer+mutex, and it gives the snapshot the same "recompute at
// most every N seconds" semantics a larger multi-key cache would.
type BroadcastManager struct {
	center      *session.Center
	neighbors   store.NeighborStore
	accounts    store.AccountStore
	stationBots []string
	snapshot    *expirable.LRU[string, []string]
}

const snapshotKey = "neighbors"

// NewBroadcastManager constructs a BroadcastManager. stationBots lists the
// configured archivist/apns-style bot IDs included in EVERYONE expansion
// (§4.7 step 2, §9's "config list when present, else the ANS registry").
func NewBroadcastManager(center *session.Center, neighbors store.NeighborStore, accounts store.AccountStore, stationBots []string) *BroadcastManager {
	return &BroadcastManager{
		center:      center,
		neighbors:   neighbors,
		accounts:    accounts,
		stationBots: stationBots,
		snapshot:    expirable.NewLRU[string, []string](1, nil, neighborSnapshotTTL),
	}
}

// neighborSnapshot returns the union of provider-configured neighbors and
// proactively connected neighbor stations, cached for neighborSnapshotTTL.
func (b *BroadcastManager) neighborSnapshot(ctx context.Context) ([]string, error) {
	if cached, ok := b.snapshot.Get(snapshotKey); ok {
		return cached, nil
	}

	set := map[string]struct{}{}
	providers, err := b.neighbors.Providers(ctx)
	if err != nil {
		return nil, fmt.Errorf("load providers: %w", err)
	}
	for _, p := range providers {
		stations, err := b.neighbors.Stations(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("load stations for provider %s: %w", p.ID, err)
		}
		for _, s := range stations {
			set[s.ID] = struct{}{}
		}
	}
	for _, id := range b.center.ActiveStations() {
		set[id] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	b.snapshot.Add(snapshotKey, out)
	return out, nil
}

// Expand implements §4.7: computes the candidate set for receiver, merges
// it into msg.Recipients, and returns the newly-added targets the caller
// should recurse Dispatcher.Deliver into.
func (b *BroadcastManager) Expand(ctx context.Context, msg *message.ReliableMessage, receiver ident.ID) ([]string, error) {
	var candidates []string

	switch {
	case receiver.Equal(ident.StationEvery):
		neighbors, err := b.neighborSnapshot(ctx)
		if err != nil {
			return nil, err
		}
		candidates = neighbors
	case receiver.Equal(ident.Everyone):
		neighbors, err := b.neighborSnapshot(ctx)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, neighbors...)
		candidates = append(candidates, b.stationBots...)
	default:
		// name@anywhere: resolve via ANS to a single ID.
		resolved, ok, err := b.accounts.ResolveANS(ctx, receiver.Name())
		if err != nil {
			return nil, fmt.Errorf("resolve ans name %s: %w", receiver.Name(), err)
		}
		if ok {
			candidates = []string{resolved}
		}
	}

	filtered := candidates[:0:0]
	for _, id := range candidates {
		if id == "" || msg.HasTraced(id) {
			continue
		}
		filtered = append(filtered, id)
	}

	existing := msg.RecipientSet()
	var fresh []string
	for _, id := range filtered {
		if _, ok := existing[id]; ok {
			continue
		}
		fresh = append(fresh, id)
	}
	msg.MergeRecipients(fresh)
	return fresh, nil
}
