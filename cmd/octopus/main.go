// Command octopus runs the edge bridge (§4.11): one inner client session
// to the local DIM station plus one outer client session per known peer
// station, fanning reliable messages between them with cycle suppression.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dim-network/station/internal/gate"
	"github.com/dim-network/station/internal/message"
	"github.com/dim-network/station/internal/octopus"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to octopus bridge configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if *configPath == "" {
		logger.Error("missing required -config flag")
		return 1
	}
	cfg, err := loadOctopusConfig(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", slog.String("error", err.Error()))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runBridge(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("octopus exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("octopus stopped")
	return 0
}

// runBridge dials the inner and outer links, wires them to an
// octopus.Bridge, and drains both read loops until ctx is canceled.
func runBridge(ctx context.Context, cfg *octopusConfig, logger *slog.Logger) error {
	inner, err := dialLink(cfg.StationAddr)
	if err != nil {
		return fmt.Errorf("dial inner station link: %w", err)
	}
	defer inner.Close()

	bridge := octopus.New(cfg.LocalID, inner, logger)
	local := discardLocalHandler{logger: logger}

	g, gCtx := errgroup.WithContext(ctx)

	outerLinks := make(map[string]*link, len(cfg.Peers))
	for _, p := range cfg.Peers {
		peerLink, err := dialLink(p.Addr)
		if err != nil {
			return fmt.Errorf("dial outer link for peer %s: %w", p.ID, err)
		}
		outerLinks[p.ID] = peerLink
		bridge.SetPeer(p.ID, peerLink)
	}
	defer func() {
		for _, l := range outerLinks {
			l.Close()
		}
	}()

	g.Go(func() error {
		return inner.run(gCtx, func(a gate.Arrival) {
			handleInnerArrival(gCtx, bridge, a, logger)
		}, logger)
	})

	for peerID, peerLink := range outerLinks {
		peerID, peerLink := peerID, peerLink
		g.Go(func() error {
			return peerLink.run(gCtx, func(a gate.Arrival) {
				handleOuterArrival(gCtx, bridge, peerID, a, local, logger)
			}, logger)
		})
	}

	logger.Info("octopus bridge started",
		slog.String("local_id", cfg.LocalID),
		slog.String("station_addr", cfg.StationAddr),
		slog.Int("peers", len(cfg.Peers)))

	return g.Wait()
}

func handleInnerArrival(ctx context.Context, bridge *octopus.Bridge, a gate.Arrival, logger *slog.Logger) {
	if a.Kind != gate.KindMessage {
		return
	}
	var msg message.ReliableMessage
	if err := json.Unmarshal(a.Payload, &msg); err != nil {
		logger.Warn("discarding unparseable inner arrival", slog.String("error", err.Error()))
		return
	}
	// msg.Target names a user, not a peer station, and ReliableMessage has
	// no neighbor field, so inner arrivals are never pinned to one peer.
	if err := bridge.HandleFromInner(ctx, &msg, ""); err != nil {
		logger.Warn("bridge inner forward failed", slog.String("error", err.Error()))
	}
}

func handleOuterArrival(ctx context.Context, bridge *octopus.Bridge, peerID string, a gate.Arrival, local octopus.LocalCommandHandler, logger *slog.Logger) {
	if a.Kind != gate.KindMessage {
		return
	}
	var msg message.ReliableMessage
	if err := json.Unmarshal(a.Payload, &msg); err != nil {
		logger.Warn("discarding unparseable outer arrival", slog.String("peer", peerID), slog.String("error", err.Error()))
		return
	}
	if err := bridge.HandleFromOuter(ctx, &msg, peerID, local); err != nil {
		logger.Warn("bridge outer forward failed", slog.String("peer", peerID), slog.String("error", err.Error()))
	}
}

// discardLocalHandler logs and drops reliable messages addressed to the
// bridge's own identifier. A deployment that wants the bridge to answer
// station-local commands (handshake, login, ...) directly runs it
// colocated with the station process and wires the real
// messenger.Messenger here instead; octopus alone only forwards traffic.
type discardLocalHandler struct {
	logger *slog.Logger
}

func (d discardLocalHandler) HandleLocal(_ context.Context, msg *message.ReliableMessage) error {
	d.logger.Debug("dropping message addressed to bridge identifier",
		slog.String("sender", msg.Sender))
	return nil
}
