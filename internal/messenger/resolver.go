package messenger

import (
	"context"

	"github.com/dim-network/station/internal/ident"
	"github.com/dim-network/station/internal/store"
)

// groupDocType marks a group entity by the presence of a bulletin document,
// the same lookup GroupDeliver performs to find its assistant list.
const groupDocType = "bulletin"

// StoreResolver implements TypeResolver against the configured bot/neighbor
// sets and the account store's document table, mirroring how real DIM
// stations classify receivers: groups carry a bulletin document, stations
// are the configured neighbor/provider set, bots are a short explicit list,
// and anything else defaults to a plain user.
type StoreResolver struct {
	accounts  store.AccountStore
	bots      map[string]struct{}
	stations  map[string]struct{}
}

// NewStoreResolver constructs a StoreResolver. bots and stations are the
// entity IDs the station should classify as TypeBot/TypeStation without a
// document lookup.
func NewStoreResolver(accounts store.AccountStore, bots, stations []string) *StoreResolver {
	r := &StoreResolver{
		accounts: accounts,
		bots:     make(map[string]struct{}, len(bots)),
		stations: make(map[string]struct{}, len(stations)),
	}
	for _, id := range bots {
		r.bots[id] = struct{}{}
	}
	for _, id := range stations {
		r.stations[id] = struct{}{}
	}
	return r
}

// Type implements TypeResolver.
func (r *StoreResolver) Type(ctx context.Context, id string) ident.EntityType {
	if _, ok := r.stations[id]; ok {
		return ident.TypeStation
	}
	if _, ok := r.bots[id]; ok {
		return ident.TypeBot
	}
	if _, ok, err := r.accounts.Document(ctx, id, groupDocType); err == nil && ok {
		return ident.TypeGroup
	}
	return ident.TypeUser
}

// SetStations replaces the set of IDs classified as stations. cmd/station
// does not call it: its SIGHUP reload does not reload the neighbor table.
func (r *StoreResolver) SetStations(ids []string) {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	r.stations = set
}
