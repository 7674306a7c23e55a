package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dim-network/station/internal/ident"
	"github.com/dim-network/station/internal/message"
	"github.com/dim-network/station/internal/push"
	"github.com/dim-network/station/internal/session"
	"github.com/dim-network/station/internal/store"
)

// Roamer is the synchronous, single-message roaming attempt a UserDeliver
// falls back to (§4.6 step 4: "invoke Roamer; if Roamer accepted, done").
// This is distinct from Dispatcher.AddRoaming, which enqueues a background
// bulk-replay job (§4.8's paged drain); both are implemented by
// internal/roamer.Roamer.
type Roamer interface {
	Redirect(ctx context.Context, msg *message.ReliableMessage, user string) (bool, error)
}

// UserDeliver implements §4.6's UserDeliver strategy.
type UserDeliver struct {
	center  *session.Center
	store   store.MessageStore
	logins  store.LoginStore
	roamer  Roamer
	push    *push.Center
	logger  *slog.Logger
	notify  bool // false for BotDeliver, which never notifies
}

// NewUserDeliver constructs the user deliver strategy.
func NewUserDeliver(center *session.Center, msgStore store.MessageStore, logins store.LoginStore, roamer Roamer, pushCenter *push.Center, logger *slog.Logger) *UserDeliver {
	return &UserDeliver{center: center, store: msgStore, logins: logins, roamer: roamer, push: pushCenter, logger: logger, notify: true}
}

// NewBotDeliver constructs the bot deliver strategy: identical session
// push behavior but no roaming fallback and no push notification, since
// "bots must be online to receive" (§4.6).
func NewBotDeliver(center *session.Center, logger *slog.Logger) *UserDeliver {
	return &UserDeliver{center: center, logger: logger, notify: false}
}

// Deliver implements Strategy.
func (d *UserDeliver) Deliver(ctx context.Context, msg *message.ReliableMessage, receiver ident.ID) ([]*message.Content, error) {
	id := receiver.String()
	sessions := d.center.Sessions(id)

	pushed := 0
	for _, sess := range sessions {
		if !sess.Active() {
			continue
		}
		payload, err := marshalForQueue(msg)
		if err != nil {
			return nil, err
		}
		sess.Queue().Push(session.Departure{Payload: payload, Priority: session.PriorityNormal, MaxRetries: 0})
		pushed++
	}
	if pushed > 0 {
		return nil, nil
	}

	if !d.notify {
		return nil, nil
	}

	if d.logins != nil && d.roamer != nil {
		if snap, ok, err := d.logins.Login(ctx, id); err == nil && ok && snap.Command.Station != "" {
			accepted, err := d.roamer.Redirect(ctx, msg, id)
			if err != nil {
				d.logger.Warn("roamer redirect failed", slog.String("user", id), slog.String("error", err.Error()))
			} else if accepted {
				return nil, nil
			}
		}
	}

	if d.store != nil {
		if _, err := d.store.Save(ctx, id, msg); err != nil {
			return nil, fmt.Errorf("save offline message for %s: %w", id, err)
		}
	}
	if d.push != nil {
		d.push.AddNotification(msg.Sender, id, "", push.KindText, "", "", 0)
	}
	return nil, nil
}

// GroupDeliver implements §4.6's GroupDeliver strategy: push to the
// group's first online assistant bot, else store pointing at it.
type GroupDeliver struct {
	center       *session.Center
	accounts     store.AccountStore
	store        store.MessageStore
	assistantANS string
}

// NewGroupDeliver constructs the group deliver strategy. assistantANS is
// the well-known ANS name used to resolve the fallback assistant when no
// group-specific assistant list is available ("assistant" per §4.6).
func NewGroupDeliver(center *session.Center, accounts store.AccountStore, msgStore store.MessageStore, assistantANS string) *GroupDeliver {
	if assistantANS == "" {
		assistantANS = "assistant"
	}
	return &GroupDeliver{center: center, accounts: accounts, store: msgStore, assistantANS: assistantANS}
}

// Deliver implements Strategy.
func (d *GroupDeliver) Deliver(ctx context.Context, msg *message.ReliableMessage, receiver ident.ID) ([]*message.Content, error) {
	assistants, err := d.assistantsFor(ctx, receiver)
	if err != nil {
		return nil, err
	}
	if len(assistants) == 0 {
		return nil, nil
	}

	for _, assistant := range assistants {
		sessions := d.center.Sessions(assistant)
		for _, sess := range sessions {
			if !sess.Active() {
				continue
			}
			payload, err := marshalForQueue(msg)
			if err != nil {
				return nil, err
			}
			sess.Queue().Push(session.Departure{Payload: payload, Priority: session.PriorityNormal})
			return nil, nil
		}
	}

	// None online: store pointing at the first-listed assistant.
	if d.store != nil {
		if _, err := d.store.Save(ctx, assistants[0], msg); err != nil {
			return nil, fmt.Errorf("save group message for assistant %s: %w", assistants[0], err)
		}
	}
	return nil, nil
}

func (d *GroupDeliver) assistantsFor(ctx context.Context, receiver ident.ID) ([]string, error) {
	doc, ok, err := d.accounts.Document(ctx, receiver.String(), "bulletin")
	if err != nil {
		return nil, fmt.Errorf("load group bulletin: %w", err)
	}
	if ok && len(doc.Data) > 0 {
		return []string{string(doc.Data)}, nil
	}
	resolved, ok, err := d.accounts.ResolveANS(ctx, d.assistantANS)
	if err != nil {
		return nil, fmt.Errorf("resolve assistant ans name: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return []string{resolved}, nil
}

// BroadcastDeliver implements §4.6's BroadcastDeliver strategy: expand
// recipients (§4.7) and recurse into Dispatcher.Deliver for each distinct,
// non-traced target. Broadcast messages are never persisted.
type BroadcastDeliver struct {
	manager        *BroadcastManager
	dispatcher     *Dispatcher
	center         *session.Center
	localStationID string
	keepLocalCopy  func(receiver ident.ID) bool
}

// NewBroadcastDeliver constructs the broadcast deliver strategy.
// keepLocalCopy decides whether, for EVERYONE, a copy is also processed
// locally (§4.4 step 3: "for EVERYONE also keep one copy local").
func NewBroadcastDeliver(manager *BroadcastManager, dispatcher *Dispatcher, center *session.Center, localStationID string, keepLocalCopy func(ident.ID) bool) *BroadcastDeliver {
	return &BroadcastDeliver{manager: manager, dispatcher: dispatcher, center: center, localStationID: localStationID, keepLocalCopy: keepLocalCopy}
}

// Deliver implements Strategy.
func (d *BroadcastDeliver) Deliver(ctx context.Context, msg *message.ReliableMessage, receiver ident.ID) ([]*message.Content, error) {
	fresh, err := d.manager.Expand(ctx, msg, receiver)
	if err != nil {
		return nil, err
	}

	var replies []*message.Content
	for _, target := range fresh {
		if target == msg.Sender {
			continue
		}
		if target == d.localStationID {
			if !d.keepLocalCopy(receiver) {
				continue
			}
			replies = append(replies, d.deliverLocalCopy(ctx, msg)...)
			continue
		}
		branch := msg.Clone()
		contents, err := d.dispatcher.Deliver(ctx, branch, ident.Parse(target, ident.TypeStation))
		if err != nil {
			continue
		}
		replies = append(replies, contents...)
	}
	if d.keepLocalCopy(receiver) && !containsTarget(fresh, d.localStationID) {
		replies = append(replies, d.deliverLocalCopy(ctx, msg)...)
	}
	return replies, nil
}

// deliverLocalCopy fans a broadcast out to every user session currently
// bound to this station (§4.4 step 3: "for EVERYONE also keep one copy
// local"), recursing into Dispatcher.Deliver as a TypeUser receiver so it
// goes through the ordinary UserDeliver push/roam/offline path.
func (d *BroadcastDeliver) deliverLocalCopy(ctx context.Context, msg *message.ReliableMessage) []*message.Content {
	var replies []*message.Content
	for _, user := range d.center.Users() {
		if user == msg.Sender {
			continue
		}
		branch := msg.Clone()
		contents, err := d.dispatcher.Deliver(ctx, branch, ident.Parse(user, ident.TypeUser))
		if err != nil {
			continue
		}
		replies = append(replies, contents...)
	}
	return replies
}

// containsTarget reports whether targets already names id, so
// deliverLocalCopy isn't invoked twice when Expand's candidates happen to
// include the local station's own ID.
func containsTarget(targets []string, id string) bool {
	for _, t := range targets {
		if t == id {
			return true
		}
	}
	return false
}

// StationDeliver implements §4.6's StationDeliver strategy: push to any
// active session bound to the target station, else forward via a bridge
// peer-station session if the local node is a bridge.
type StationDeliver struct {
	center   *session.Center
	isBridge bool
}

// NewStationDeliver constructs the station deliver strategy.
func NewStationDeliver(center *session.Center, isBridge bool) *StationDeliver {
	return &StationDeliver{center: center, isBridge: isBridge}
}

// Deliver implements Strategy.
func (d *StationDeliver) Deliver(_ context.Context, msg *message.ReliableMessage, receiver ident.ID) ([]*message.Content, error) {
	sessions := d.center.StationSessions(receiver.String())
	for _, sess := range sessions {
		if !sess.Active() {
			continue
		}
		payload, err := marshalForQueue(msg)
		if err != nil {
			return nil, err
		}
		sess.Queue().Push(session.Departure{Payload: payload, Priority: session.PriorityHigh})
		return nil, nil
	}
	// No direct neighbor session; a bridge would forward via the octopus
	// edge's outer sessions (internal/octopus), which consumes target
	// directly rather than going through StationDeliver again.
	return nil, nil
}

func marshalForQueue(msg *message.ReliableMessage) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message for outbound queue: %w", err)
	}
	return data, nil
}
