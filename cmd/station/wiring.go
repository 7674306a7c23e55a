package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dim-network/station/internal/config"
	"github.com/dim-network/station/internal/dispatcher"
	"github.com/dim-network/station/internal/ident"
	"github.com/dim-network/station/internal/messenger"
	"github.com/dim-network/station/internal/metrics"
	"github.com/dim-network/station/internal/push"
	"github.com/dim-network/station/internal/roamer"
	"github.com/dim-network/station/internal/session"
	"github.com/dim-network/station/internal/store"

	"github.com/prometheus/client_golang/prometheus"
)

// stores bundles the four persistence contracts the station needs. sqlite
// is non-nil (and must be Closed on shutdown) only when cfg.Database.Root
// is configured; otherwise all four are backed by the in-memory
// implementations.
type stores struct {
	messages  store.MessageStore
	logins    store.LoginStore
	accounts  store.AccountStore
	neighbors store.NeighborStore
	sqlite    *store.SQLiteStore
}

func buildStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	neighborProviders, neighborStations := neighborTables(cfg.Neighbors)
	neighborStore := store.NewMemoryNeighborStore(neighborProviders, neighborStations)

	if cfg.Database.Root == "" {
		accounts, err := store.NewCachedAccountStore(store.NewMemoryAccountStore(cfg.ANS.Names()), 0)
		if err != nil {
			return nil, err
		}
		return &stores{
			messages:  store.NewMemoryMessageStore(0),
			logins:    store.NewMemoryLoginStore(),
			accounts:  accounts,
			neighbors: neighborStore,
		}, nil
	}

	dbPath := cfg.Database.Root + "/station.db"
	sq, err := store.OpenSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	for name, id := range cfg.ANS.Names() {
		if name == "station" {
			continue
		}
		if err := sq.SeedANS(ctx, name, id); err != nil {
			sq.Close()
			return nil, err
		}
	}

	accounts, err := store.NewCachedAccountStore(sq, 0)
	if err != nil {
		sq.Close()
		return nil, err
	}

	return &stores{
		messages:  sq,
		logins:    sq,
		accounts:  accounts,
		neighbors: neighborStore,
		sqlite:    sq,
	}, nil
}

// neighborTables reshapes the flat station.conf neighbors[] list into the
// provider/station tables store.NeighborStore expects (§3, §6).
func neighborTables(neighbors []config.NeighborConfig) ([]store.Provider, map[string][]store.NeighborStation) {
	seenProviders := map[string]store.Provider{}
	byProvider := map[string][]store.NeighborStation{}

	for _, n := range neighbors {
		providerID := n.Provider
		if providerID == "" {
			providerID = "default"
		}
		if _, ok := seenProviders[providerID]; !ok {
			seenProviders[providerID] = store.Provider{ID: providerID, Chosen: n.Chosen}
		}
		byProvider[providerID] = append(byProvider[providerID], store.NeighborStation{
			ID:       n.ID,
			Host:     n.Host,
			Port:     n.Port,
			Chosen:   n.Chosen,
			Provider: providerID,
		})
	}

	providers := make([]store.Provider, 0, len(seenProviders))
	for _, p := range seenProviders {
		providers = append(providers, p)
	}
	return providers, byProvider
}

func neighborIDs(neighbors []config.NeighborConfig) []string {
	ids := make([]string, 0, len(neighbors))
	for _, n := range neighbors {
		ids = append(ids, n.ID)
	}
	return ids
}

// stationBots returns the configured ans{} entries other than "station"
// itself: the archivist/apns-style assistant IDs included in EVERYONE
// expansion and group-assistant resolution (§4.6, §4.7).
func stationBots(ans config.ANSConfig) []string {
	bots := make([]string, 0, len(ans))
	for name, id := range ans {
		if name == "station" {
			continue
		}
		bots = append(bots, id)
	}
	return bots
}

// components bundles everything main.go needs to drive a connection and
// to run the background loops.
type components struct {
	center          *session.Center
	push            *push.Center
	dispatcher      *dispatcher.Dispatcher
	messenger       *messenger.Messenger
	roamer          *roamer.Roamer
	metrics         *metrics.Collector
	accounts        store.AccountStore
	accountsLocalID string
	stores          *stores
}

// wire constructs the full station object graph from cfg, following the
// verify/classify/decide pipeline -> strategy selection -> roaming
// dependency order (§4.4-§4.8).
func wire(cfg *config.Config, reg prometheus.Registerer, logger *slog.Logger) (*components, error) {
	localStationID := cfg.ANS.StationID()

	st, err := buildStores(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	collector := metrics.NewCollector(reg)
	center := session.NewCenter()
	pushCenter := push.NewCenter(logger)

	ids := neighborIDs(cfg.Neighbors)
	bots := stationBots(cfg.ANS)

	filter := messenger.NewFilter(localStationID)
	filter.SetNeighbors(ids)

	resolver := messenger.NewStoreResolver(st.accounts, bots, ids)
	verifier := messenger.NewDocumentVerifier(st.accounts)

	roam := roamer.New(localStationID, center, st.logins, st.messages, logger)

	disp := dispatcher.New(dispatcher.Strategies{
		User:  dispatcher.NewUserDeliver(center, st.messages, st.logins, roam, pushCenter, logger),
		Bot:   dispatcher.NewBotDeliver(center, logger),
		Group: dispatcher.NewGroupDeliver(center, st.accounts, st.messages, "assistant"),
		Station: dispatcher.NewStationDeliver(center, false),
	}, logger)

	manager := dispatcher.NewBroadcastManager(center, st.neighbors, st.accounts, bots)
	keepLocalCopy := func(receiver ident.ID) bool { return receiver.Equal(ident.Everyone) }
	disp.SetBroadcast(dispatcher.NewBroadcastDeliver(manager, disp, center, localStationID, keepLocalCopy))

	processor := messenger.NewProcessor(localStationID, center, st.accounts, st.logins, disp, bots, logger)
	msgr := messenger.New(localStationID, filter, center, resolver, verifier, disp, processor, logger)

	return &components{
		center:          center,
		push:            pushCenter,
		dispatcher:      disp,
		messenger:       msgr,
		roamer:          roam,
		metrics:         collector,
		accounts:        st.accounts,
		accountsLocalID: localStationID,
		stores:          st,
	}, nil
}
