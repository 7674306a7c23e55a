package messenger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dim-network/station/internal/message"
	"github.com/dim-network/station/internal/session"
	"github.com/dim-network/station/internal/store"
)

// Handshake titles (§4.3).
const (
	titleHello = "Hello world!"
	titleWhich = "DIM?"
	titleOK    = "DIM!"
)

// Roamer is the subset of roaming behavior the login command needs to
// trigger; the concrete implementation lives in internal/roamer and is
// wired in by cmd/station.
type Roamer interface {
	AddRoaming(ctx context.Context, user, station string)
}

// Processor handles the station-local command set (§6): handshake, login,
// report, document, ans. It is the Content Processor box of the
// architecture diagram, split out from Messenger to keep verify/classify
// logic free of command-specific branching (mirrors the teacher's split
// between fsm.go's pure transitions and callback.go's side effects).
type Processor struct {
	localStationID string
	center         *session.Center
	accounts       store.AccountStore
	logins         store.LoginStore
	roamer         Roamer
	stationBots    []string
	logger         *slog.Logger
}

// NewProcessor constructs a Processor. stationBots lists the configured
// archivist/apns-style bot IDs; no handler here reads it (ans resolves
// names through accounts, and EVERYONE expansion uses BroadcastManager's
// own list).
func NewProcessor(localStationID string, center *session.Center, accounts store.AccountStore, logins store.LoginStore, roamer Roamer, stationBots []string, logger *slog.Logger) *Processor {
	return &Processor{
		localStationID: localStationID,
		center:         center,
		accounts:       accounts,
		logins:         logins,
		roamer:         roamer,
		stationBots:    stationBots,
		logger:         logger,
	}
}

// Handle dispatches content to the matching command handler and returns an
// optional reply Content.
func (p *Processor) Handle(ctx context.Context, msg *message.ReliableMessage, sess *session.Session, content *message.Content) (*message.Content, error) {
	switch content.Type {
	case "handshake":
		return p.handleHandshake(ctx, msg, sess, content)
	case "login":
		return p.handleLogin(ctx, msg, content)
	case "report":
		return p.handleReport(sess, content)
	case "document":
		return p.handleDocument(ctx, content)
	case "ans":
		return p.handleANS(ctx, content)
	default:
		p.logger.Debug("unhandled local command", slog.String("type", content.Type))
		return nil, nil
	}
}

// handleHandshake implements the four-step protocol (§4.3).
func (p *Processor) handleHandshake(_ context.Context, msg *message.ReliableMessage, sess *session.Session, content *message.Content) (*message.Content, error) {
	title, _ := content.Get("title")
	titleStr, _ := title.(string)

	if titleStr != titleHello {
		// Unexpected title from the client side of this protocol; treat as
		// a fresh offer and re-challenge.
		return p.challenge(sess), nil
	}

	presented, hasSession := content.Get("session")
	presentedKey, _ := presented.(string)

	if !hasSession || presentedKey == "" {
		// Step 1: initial offer, no key yet.
		return p.challenge(sess), nil
	}

	if presentedKey != sess.Key() {
		// Mismatch: re-issue the current key (§4.3: "On mismatch it
		// re-issues DIM? with the current key").
		return p.challenge(sess), nil
	}

	sess.SetIdentifier(msg.Sender)
	sess.SetActive(true, time.Now())
	p.center.Bind(msg.Sender, sess)

	reply := message.NewContent("handshake", 0, time.Now())
	reply.Set("title", titleOK)
	return reply, nil
}

func (p *Processor) challenge(sess *session.Session) *message.Content {
	c := message.NewContent("handshake", 0, time.Now())
	c.Set("title", titleWhich)
	c.Set("session", sess.Key())
	return c
}

// handleLogin persists the LoginCommand and triggers a roaming redirect
// check when the announced station differs from the local one (§6 login).
// It does not change any session's active flag; the report command does.
func (p *Processor) handleLogin(ctx context.Context, msg *message.ReliableMessage, content *message.Content) (*message.Content, error) {
	user, _ := content.Get("user")
	station, _ := content.Get("station")
	userStr, _ := user.(string)
	stationStr, _ := station.(string)
	if userStr == "" {
		userStr = msg.Sender
	}

	snap := message.LoginSnapshot{
		Command: message.LoginCommand{
			User:    userStr,
			Station: stationStr,
			Time:    time.Now().Unix(),
		},
		Envelope: msg,
	}
	if err := p.logins.SaveLogin(ctx, snap); err != nil {
		return nil, fmt.Errorf("save login: %w", err)
	}

	if stationStr != "" && stationStr != p.localStationID && p.roamer != nil {
		p.roamer.AddRoaming(ctx, userStr, stationStr)
	}

	reply := message.NewContent("login", 0, time.Now())
	reply.Set("ok", true)
	return reply, nil
}

// handleReport flips session.active per §6's report(online/offline).
func (p *Processor) handleReport(sess *session.Session, content *message.Content) (*message.Content, error) {
	title, _ := content.Get("title")
	titleStr, _ := title.(string)
	online := strings.EqualFold(titleStr, "online")
	sess.SetActive(online, time.Now())
	return nil, nil
}

// handleDocument serves the station's own meta/visa to pre-authenticated
// clients, or stores a client-submitted document (§6: "document C↔S
// Returns station meta/visa to pre-authenticated clients").
func (p *Processor) handleDocument(ctx context.Context, content *message.Content) (*message.Content, error) {
	id, _ := content.Get("id")
	idStr, _ := id.(string)
	if idStr == "" {
		idStr = p.localStationID
	}
	docType, _ := content.Get("doc_type")
	docTypeStr, _ := docType.(string)
	if docTypeStr == "" {
		docTypeStr = "visa"
	}

	if data, hasData := content.Get("data"); hasData {
		raw, _ := data.(string)
		if err := p.accounts.PutDocument(ctx, store.Document{
			ID:   idStr,
			Type: docTypeStr,
			Data: []byte(raw),
			Time: time.Now().Unix(),
		}); err != nil {
			return nil, fmt.Errorf("store submitted document: %w", err)
		}
		return nil, nil
	}

	doc, ok, err := p.accounts.Document(ctx, idStr, docTypeStr)
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	reply := message.NewContent("document", 0, time.Now())
	reply.Set("id", idStr)
	reply.Set("doc_type", docTypeStr)
	reply.Set("found", ok)
	if ok {
		reply.Set("data", string(doc.Data))
		reply.Set("time", doc.Time)
	}
	return reply, nil
}

// handleANS resolves well-known names to IDs (§6: "ans(query/respond)
// Resolves well-known names (e.g., archivist) to IDs").
func (p *Processor) handleANS(ctx context.Context, content *message.Content) (*message.Content, error) {
	names, _ := content.Get("names")
	var nameList []string
	switch v := names.(type) {
	case string:
		nameList = []string{v}
	case []any:
		for _, n := range v {
			if s, ok := n.(string); ok {
				nameList = append(nameList, s)
			}
		}
	}

	resolved := make(map[string]string, len(nameList))
	for _, name := range nameList {
		if id, ok, err := p.accounts.ResolveANS(ctx, name); err == nil && ok {
			resolved[name] = id
		}
	}

	reply := message.NewContent("ans", 0, time.Now())
	reply.Set("names", resolved)
	return reply, nil
}
