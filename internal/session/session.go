package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// GateController is the minimal surface a Session needs from its owning
// transport gate: observe connectivity and request a close. Framings
// (mtp/mars/ws) implement this; Session never depends on a concrete
// framing (§9: "model the weak back-reference via an index/handle").
type GateController interface {
	Status() GateStatus
	Close() error
}

// Hooks are the side-effect callbacks the Session invokes when the FSM
// produces an Action. Keeping these as plain function values (rather than
// an interface back-reference to the Messenger) avoids an import cycle
// between session and messenger, mirroring the teacher's StateCallback
// pattern in internal/bfd/callback.go.
type Hooks struct {
	// InitiateHandshake is called on entering Handshaking.
	InitiateHandshake func(s *Session)
	// BroadcastDocument is called on entering Running.
	BroadcastDocument func(s *Session)
	// ResetKeepOnline is called on entering Running.
	ResetKeepOnline func(s *Session)
	// ReloadOffline is called whenever the identifier changes or active
	// flips true with an identifier set (§3 invariant iv).
	ReloadOffline func(s *Session, id string)
}

// Option configures optional Session parameters, functional-options style
// (mirrors internal/bfd/session.go's SessionOption).
type Option func(*Session)

// WithQueueCapacity overrides the default outbound queue capacity.
func WithQueueCapacity(n int) Option {
	return func(s *Session) { s.queueCap = n }
}

// WithOverflow registers a callback for dropped outbound Departures.
func WithOverflow(fn OverflowFunc) Option {
	return func(s *Session) { s.onDrop = fn }
}

const defaultQueueCapacity = 256

// Session is one authenticated (or authenticating) connection. All mutable
// identity/activity state is guarded by mu; hot-path counters are atomic,
// matching the teacher's split between mutex-guarded identity fields and
// atomic counters.
type Session struct {
	key        string // generated at construction, never changes (invariant i)
	remoteAddr string
	gate       GateController
	queue      *OutboundQueue
	queueCap   int
	onDrop     OverflowFunc
	logger     *slog.Logger
	hooks      Hooks

	mu             sync.RWMutex
	identifier     string
	active         bool
	lastActiveWhen time.Time
	state          State
	stateEnteredAt time.Time
	sessionKeyIssued bool // true once handshake issued the session key

	messagesSent atomic.Uint64
	stateChanges atomic.Uint64
}

// New creates a Session with a freshly generated key. The session starts in
// StateDefault; callers drive it by calling Tick or OnGateStatus.
func New(remoteAddr string, gate GateController, logger *slog.Logger, hooks Hooks, opts ...Option) *Session {
	s := &Session{
		key:            generateKey(),
		remoteAddr:     remoteAddr,
		gate:           gate,
		logger:         logger,
		hooks:          hooks,
		queueCap:       defaultQueueCapacity,
		stateEnteredAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.queue = NewOutboundQueue(s.queueCap, s.onDrop)
	return s
}

// generateKey produces a random session key, the wire value the handshake
// challenge presents as "DIM?" session field.
func generateKey() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is unrecoverable; a zero key is distinguishable
		// and callers treat it as "no key" which forces a fresh handshake.
		return ""
	}
	return hex.EncodeToString(buf)
}

// Key returns the session's immutable handshake key.
func (s *Session) Key() string { return s.key }

// RemoteAddr returns the connection's remote address string.
func (s *Session) RemoteAddr() string { return s.remoteAddr }

// Queue returns the session's outbound priority queue.
func (s *Session) Queue() *OutboundQueue { return s.queue }

// State returns the current FSM state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Identifier returns the bound entity ID, or "" if unbound.
func (s *Session) Identifier() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identifier
}

// Active reports whether the session is currently marked active.
func (s *Session) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// MessagesSent returns the number of Departures successfully handed to the
// gate for transmission (incremented via MarkSent).
func (s *Session) MessagesSent() uint64 { return s.messagesSent.Load() }

// MarkSent records that a queued Departure was handed off for transmission.
func (s *Session) MarkSent() { s.messagesSent.Add(1) }

// errIdentifierMismatchMsg is logged (not returned, to keep the hot path
// allocation-free) when a second, distinct SetIdentifier call arrives.
const errIdentifierMismatchMsg = "session: identifier already bound; ignoring reassignment"

// SetIdentifier binds the session's identifier exactly once for its
// lifetime (§8 TESTABLE PROPERTIES). A second call with a different value
// is a no-op that still triggers an offline-message reload for the
// already-bound identifier, matching the literal testable property; a
// second call with the same value is idempotent and also reloads, since a
// client may re-handshake the same identifier after a reconnect blip.
func (s *Session) SetIdentifier(id string) {
	s.mu.Lock()
	if s.identifier == "" {
		s.identifier = id
		s.sessionKeyIssued = true
		bound := s.identifier
		s.mu.Unlock()
		s.reload(bound)
		return
	}
	if s.identifier != id {
		s.logger.Warn(errIdentifierMismatchMsg,
			slog.String("bound", s.identifier), slog.String("attempted", id))
	}
	bound := s.identifier
	s.mu.Unlock()
	s.reload(bound)
}

func (s *Session) reload(id string) {
	if id == "" || s.hooks.ReloadOffline == nil {
		return
	}
	s.hooks.ReloadOffline(s, id)
}

// SetActive flips the active flag if when is later than the last recorded
// timestamp (§3 invariant iii: "later when wins"). Flipping to true with an
// identifier bound triggers an offline-message reload (invariant iv).
func (s *Session) SetActive(active bool, when time.Time) {
	s.mu.Lock()
	if !when.After(s.lastActiveWhen) && !s.lastActiveWhen.IsZero() {
		s.mu.Unlock()
		return
	}
	s.lastActiveWhen = when
	wasActive := s.active
	s.active = active
	id := s.identifier
	s.mu.Unlock()

	if active && !wasActive && id != "" {
		s.reload(id)
	}
}

// HasKey reports whether the handshake has issued/accepted a session key
// for this connection (drives the Connected<->Handshaking edge).
func (s *Session) HasKey() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionKeyIssued
}

// ClearKey resets the handshake key state, forcing the FSM back through
// Handshaking (used when the bound user switches, per the Running->Default
// edge and ActionClearIdentity).
func (s *Session) ClearKey() {
	s.mu.Lock()
	s.sessionKeyIssued = false
	s.identifier = ""
	s.mu.Unlock()
}

// Tick re-evaluates the state machine against the session's current
// identifier/key/active snapshot and the gate's reported status, applying
// any resulting actions via hooks. Called periodically (TickInterval) or
// whenever the gate reports a status change.
func (s *Session) Tick(now time.Time) Result {
	s.mu.Lock()
	snap := Snapshot{
		State:         s.state,
		HasIdentifier: s.identifier != "",
		GateStatus:    s.gate.Status(),
		HasKey:        s.sessionKeyIssued,
		TimeInState:   now.Sub(s.stateEnteredAt),
	}
	result := Evaluate(snap)
	if result.Changed {
		s.state = result.NewState
		s.stateEnteredAt = now
	}
	s.mu.Unlock()

	if result.Changed {
		s.stateChanges.Add(1)
		s.logger.Info("session state transition",
			slog.String("from", result.OldState.String()),
			slog.String("to", result.NewState.String()))
		s.runActions(result.Actions)
	}
	return result
}

func (s *Session) runActions(actions []Action) {
	for _, a := range actions {
		switch a {
		case ActionInitiateHandshake:
			if s.hooks.InitiateHandshake != nil {
				s.hooks.InitiateHandshake(s)
			}
		case ActionBroadcastDocument:
			if s.hooks.BroadcastDocument != nil {
				s.hooks.BroadcastDocument(s)
			}
		case ActionResetKeepOnline:
			if s.hooks.ResetKeepOnline != nil {
				s.hooks.ResetKeepOnline(s)
			}
		case ActionClearIdentity:
			s.ClearKey()
		}
	}
}

// Stop signals the gate to close; it does not drain queues (§4.2
// Cancellation: "stop() drains no queues; it signals the gate to close").
// The caller (gate) is responsible for triggering the subsequent status
// change that removes the session from the SessionCenter.
func (s *Session) Stop() error {
	s.queue.Close()
	return s.gate.Close()
}

// String implements fmt.Stringer for log-friendly identification.
func (s *Session) String() string {
	return fmt.Sprintf("Session{key=%s..., id=%s, addr=%s}", shortKey(s.key), s.Identifier(), s.remoteAddr)
}

func shortKey(k string) string {
	if len(k) <= 8 {
		return k
	}
	return k[:8]
}
