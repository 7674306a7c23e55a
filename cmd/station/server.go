package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/dim-network/station/internal/gate"
	"github.com/dim-network/station/internal/message"
	"github.com/dim-network/station/internal/session"
)

// decoders lists the sniffable binary framings a plain TCP connection may
// present (§4.1); websocket connections arrive via the separate HTTP
// upgrade endpoint registered in newAdminServer.
func decoders() []gate.Decoder {
	return []gate.Decoder{gate.MTP{}, gate.Mars{}}
}

// serveStation accepts connections on ln until ctx is canceled, handing
// each one to runConnection in its own goroutine.
func serveStation(ctx context.Context, ln net.Listener, c *components, logger *slog.Logger) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Warn("accept failed", slog.String("error", err.Error()))
			continue
		}
		go runConnection(ctx, conn, c, logger)
	}
}

// runConnection sniffs conn's framing and, if recognized, hands it to
// runSession; unrecognized preambles are rejected by closing the socket.
func runConnection(ctx context.Context, conn net.Conn, c *components, logger *slog.Logger) {
	g, err := gate.Sniff(conn, decoders(), logger)
	if err != nil {
		logger.Debug("connection preamble not recognized", slog.String("error", err.Error()))
		return
	}
	runSession(ctx, g, g.Transport(), c, logger)
}

// serveWebsocket registers the websocket upgrade endpoint on mux, mirroring
// runConnection's session wiring for framings that arrive over HTTP instead
// of a sniffable raw preamble (§4.1).
func serveWebsocket(ctx context.Context, c *components, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g, err := gate.Upgrade(w, r, logger)
		if err != nil {
			logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
			return
		}
		go runSession(ctx, g, g.Transport(), c, logger)
	}
}

// runSession wires a ready Gate to a new Session, drives its tick loop,
// read loop, and write loop, and tears down session-center bindings and
// metrics on exit (§4.1, §4.2, §5).
func runSession(ctx context.Context, g *gate.Gate, transport string, c *components, logger *slog.Logger) {
	c.metrics.RegisterSession(transport)
	defer c.metrics.UnregisterSession(transport)

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var sess *session.Session
	hooks := session.Hooks{
		InitiateHandshake: func(s *session.Session) {
			pushContent(s, c.accountsLocalID, s.Identifier(), newHandshakeChallenge(s.Key()))
		},
		BroadcastDocument: func(s *session.Session) {
			logger.Debug("session entered running state",
				slog.String("identifier", s.Identifier()))
		},
		ResetKeepOnline: func(s *session.Session) {},
		ReloadOffline: func(s *session.Session, id string) {
			replayOffline(sessCtx, c, s, id, logger)
		},
	}
	sess = session.New(g.RemoteAddrString(), g, logger, hooks)

	ticker := time.NewTicker(session.TickInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-sessCtx.Done():
				return
			case now := <-ticker.C:
				sess.Tick(now)
			}
		}
	}()

	go g.WriteLoop(sess)

	err := g.ReadLoop(sessCtx, func(a gate.Arrival) {
		handleArrival(sessCtx, c, sess, a, logger)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Debug("session read loop ended", slog.String("error", err.Error()))
	}

	unbindSession(c, sess)
	sess.Stop()
}

// handleArrival decodes one inbound frame's payload as a ReliableMessage,
// runs it through the messenger pipeline, and queues any reply envelopes
// for the write loop.
func handleArrival(ctx context.Context, c *components, sess *session.Session, a gate.Arrival, logger *slog.Logger) {
	if a.Kind != gate.KindMessage {
		return
	}

	var msg message.ReliableMessage
	if err := json.Unmarshal(a.Payload, &msg); err != nil {
		logger.Warn("discarding unparseable arrival", slog.String("error", err.Error()))
		return
	}

	replies, err := c.messenger.Process(ctx, &msg, sess)
	if err != nil {
		logger.Warn("message processing failed",
			slog.String("sender", msg.Sender), slog.String("error", err.Error()))
		return
	}
	for _, reply := range replies {
		pushContent(sess, c.accountsLocalID, msg.Sender, reply)
	}
}

// newHandshakeChallenge builds the "DIM?" content a fresh or retried
// handshake offer receives in response (§4.3).
func newHandshakeChallenge(sessionKey string) *message.Content {
	c := message.NewContent("handshake", 0, time.Now())
	c.Set("title", "DIM?")
	c.Set("session", sessionKey)
	return c
}

// pushContent wraps content as a station-originated ReliableMessage
// addressed to receiver and queues it on sess's outbound queue. Outgoing
// local-command replies are unsigned: the station does not hold a
// signable keypair in this exercise (account/document key material and
// end-to-end payload encryption are out of scope, §1 Non-goals).
func pushContent(sess *session.Session, sender, receiver string, content *message.Content) {
	if content == nil {
		return
	}
	data, err := content.MarshalJSON()
	if err != nil {
		return
	}
	envelope := &message.ReliableMessage{
		Sender:   sender,
		Receiver: receiver,
		Time:     time.Now().Unix(),
		Data:     data,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return
	}
	sess.Queue().Push(session.Departure{Payload: payload, Priority: session.PriorityHigh})
}

// replayOffline drains id's stored offline messages onto sess's outbound
// queue and removes each one once queued (§4.9 Roamer/OfflineStore replay,
// §3 invariant iv).
func replayOffline(ctx context.Context, c *components, sess *session.Session, id string, logger *slog.Logger) {
	msgs, _, err := c.stores.messages.Fetch(ctx, id, 0, 0)
	if err != nil {
		logger.Warn("offline replay fetch failed", slog.String("id", id), slog.String("error", err.Error()))
		return
	}
	for _, m := range msgs {
		payload, err := json.Marshal(m)
		if err != nil {
			continue
		}
		sess.Queue().Push(session.Departure{Payload: payload, Priority: session.PriorityNormal})
		if err := c.stores.messages.Remove(ctx, id, m.SignatureKey()); err != nil {
			logger.Warn("offline replay cleanup failed",
				slog.String("id", id), slog.String("error", err.Error()))
		}
	}
}

// unbindSession removes sess from the session center under every
// identifier/station key it may have been bound to. The Center does not
// expose a reverse lookup, so both the user and neighbor-station bind
// paths are unwound defensively using the session's own bound identifier.
func unbindSession(c *components, sess *session.Session) {
	id := sess.Identifier()
	if id == "" {
		return
	}
	c.center.Unbind(id, sess)
	c.center.UnbindStation(id, sess)
}
