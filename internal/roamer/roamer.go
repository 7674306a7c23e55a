// Package roamer implements §4.8: deciding where a user currently resides
// and redirecting/replaying stored messages toward that station, either
// directly through a neighbor session or via the station bridge.
package roamer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dim-network/station/internal/dispatcher"
	"github.com/dim-network/station/internal/message"
	"github.com/dim-network/station/internal/session"
	"github.com/dim-network/station/internal/store"
)

// replayPageSize bounds how many stored messages are drained per page
// during a roaming replay (§4.8: "in pages (limit ≈ 1024)").
const replayPageSize = 1024

// Roamer implements both dispatcher.Roamer (synchronous single-message
// redirect) and dispatcher.RoamingHandler (background bulk replay), per
// §4.8's two entry points.
type Roamer struct {
	localStationID string
	center         *session.Center
	logins         store.LoginStore
	messages       store.MessageStore
	logger         *slog.Logger
}

// New constructs a Roamer for localStationID.
func New(localStationID string, center *session.Center, logins store.LoginStore, messages store.MessageStore, logger *slog.Logger) *Roamer {
	return &Roamer{localStationID: localStationID, center: center, logins: logins, messages: messages, logger: logger}
}

// stationFor resolves the roaming target station for a receiver ID:
// stations are their own roaming target; everyone else is looked up via
// the persisted LoginCommand.
func (r *Roamer) stationFor(ctx context.Context, receiver string, receiverIsStation bool) (string, bool, error) {
	if receiverIsStation {
		return receiver, true, nil
	}
	snap, ok, err := r.logins.Login(ctx, receiver)
	if err != nil {
		return "", false, fmt.Errorf("load login for %s: %w", receiver, err)
	}
	if !ok || snap.Command.Station == "" {
		return "", false, nil
	}
	return snap.Command.Station, true, nil
}

// Redirect implements dispatcher.Roamer: a single-message synchronous
// attempt. Returns false (not an error) when there is nothing to redirect
// to, so the caller's normal store/notify fallback proceeds.
func (r *Roamer) Redirect(ctx context.Context, msg *message.ReliableMessage, user string) (bool, error) {
	station, ok, err := r.stationFor(ctx, user, false)
	if err != nil {
		return false, err
	}
	if !ok || station == r.localStationID {
		return false, nil
	}
	return r.push(msg, user, station), nil
}

// push attempts direct delivery through a neighbor-station session, else
// rewrites msg.Target for a bridge session bound to the local station's
// own ID (§4.8: "push via the bridge... a session bound to the local
// station's own ID that the peer edge consumes").
func (r *Roamer) push(msg *message.ReliableMessage, user, station string) bool {
	if sessions := r.center.StationSessions(station); len(sessions) > 0 {
		for _, sess := range sessions {
			if !sess.Active() {
				continue
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				r.logger.Warn("marshal roaming message failed", slog.String("error", err.Error()))
				continue
			}
			sess.Queue().Push(session.Departure{Payload: payload, Priority: session.PriorityNormal})
			return true
		}
	}

	bridgeSessions := r.center.Sessions(r.localStationID)
	if len(bridgeSessions) == 0 {
		return false
	}
	branch := msg.Clone()
	branch.Target = user
	payload, err := json.Marshal(branch)
	if err != nil {
		r.logger.Warn("marshal bridged roaming message failed", slog.String("error", err.Error()))
		return false
	}
	for _, sess := range bridgeSessions {
		if !sess.Active() {
			continue
		}
		sess.Queue().Push(session.Departure{Payload: payload, Priority: session.PriorityNormal})
		return true
	}
	return false
}

// HandleRoaming implements dispatcher.RoamingHandler: drains the user's
// offline store in pages, pushing each message toward the roaming station
// either directly or via the bridge, stopping once the store is empty
// (§4.8 Replay).
func (r *Roamer) HandleRoaming(ctx context.Context, job dispatcher.RoamingJob) error {
	for {
		messages, remaining, err := r.messages.Fetch(ctx, job.User, 0, replayPageSize)
		if err != nil {
			return fmt.Errorf("fetch offline messages for %s: %w", job.User, err)
		}
		if len(messages) == 0 {
			return nil
		}

		delivered := false
		for _, m := range messages {
			if r.push(m, job.User, job.Station) {
				delivered = true
				if err := r.messages.Remove(ctx, job.User, m.SignatureKey()); err != nil {
					r.logger.Warn("remove replayed roaming message failed",
						slog.String("user", job.User), slog.String("error", err.Error()))
				}
			}
		}
		if remaining == 0 {
			return nil
		}
		if !delivered {
			// No progress on this page: the roaming station has no
			// reachable session right now. Stop instead of busy-looping;
			// a later addRoaming call (next login/report) retries.
			return nil
		}
	}
}
