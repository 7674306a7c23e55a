package messenger

import (
	"context"
	"testing"

	"github.com/dim-network/station/internal/ident"
	"github.com/dim-network/station/internal/store"
)

func TestStoreResolverClassifiesConfiguredSets(t *testing.T) {
	accounts := store.NewMemoryAccountStore(nil)
	r := NewStoreResolver(accounts, []string{"assistant@dim"}, []string{"neighbor.station"})

	if got := r.Type(context.Background(), "neighbor.station"); got != ident.TypeStation {
		t.Fatalf("station classification = %v, want TypeStation", got)
	}
	if got := r.Type(context.Background(), "assistant@dim"); got != ident.TypeBot {
		t.Fatalf("bot classification = %v, want TypeBot", got)
	}
	if got := r.Type(context.Background(), "alice@dim"); got != ident.TypeUser {
		t.Fatalf("default classification = %v, want TypeUser", got)
	}
}

func TestStoreResolverClassifiesGroupByBulletin(t *testing.T) {
	accounts := store.NewMemoryAccountStore(nil)
	if err := accounts.PutDocument(context.Background(), store.Document{
		ID: "chat@dim", Type: groupDocType, Data: []byte("{}"),
	}); err != nil {
		t.Fatalf("put document: %v", err)
	}
	r := NewStoreResolver(accounts, nil, nil)

	if got := r.Type(context.Background(), "chat@dim"); got != ident.TypeGroup {
		t.Fatalf("group classification = %v, want TypeGroup", got)
	}
}

func TestStoreResolverSetStationsReplacesSet(t *testing.T) {
	accounts := store.NewMemoryAccountStore(nil)
	r := NewStoreResolver(accounts, nil, []string{"old.station"})

	r.SetStations([]string{"new.station"})

	if got := r.Type(context.Background(), "old.station"); got == ident.TypeStation {
		t.Fatalf("old station id should no longer classify as TypeStation after SetStations")
	}
	if got := r.Type(context.Background(), "new.station"); got != ident.TypeStation {
		t.Fatalf("new station classification = %v, want TypeStation", got)
	}
}
