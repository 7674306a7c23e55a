package session

import "sync"

// Center is the process-wide index of ID -> active sessions (§3
// SessionCenter). Its lifecycle equals the process lifetime; it is
// constructed once at boot and threaded explicitly through the
// Dispatcher/Delivers/Roamer constructors rather than kept as a package
// global (§9 "avoid hidden globals").
//
// A single mutex guards the map, mirroring the teacher's Manager: no I/O
// runs while the lock is held, and iteration over one user's sessions is
// done against a shallow copy (§5).
type Center struct {
	mu       sync.RWMutex
	byUser   map[string]map[*Session]struct{}
	byStation map[string]map[*Session]struct{}
}

// NewCenter creates an empty Center.
func NewCenter() *Center {
	return &Center{
		byUser:    make(map[string]map[*Session]struct{}),
		byStation: make(map[string]map[*Session]struct{}),
	}
}

// Bind registers sess under id. A session may be bound to at most one
// identifier at a time in this implementation; callers must Unbind the old
// identifier first if rebinding (handled by Session.SetIdentifier's
// set-once semantics upstream).
func (c *Center) Bind(id string, sess *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.byUser[id]
	if !ok {
		set = make(map[*Session]struct{})
		c.byUser[id] = set
	}
	set[sess] = struct{}{}
}

// BindStation registers sess as a station-to-station (neighbor) session.
func (c *Center) BindStation(stationID string, sess *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.byStation[stationID]
	if !ok {
		set = make(map[*Session]struct{})
		c.byStation[stationID] = set
	}
	set[sess] = struct{}{}
}

// Unbind removes sess from id's session set. Called on session stop (§3
// Ownership: "a Session removed from the center on stop").
func (c *Center) Unbind(id string, sess *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.byUser[id]
	if !ok {
		return
	}
	delete(set, sess)
	if len(set) == 0 {
		delete(c.byUser, id)
	}
}

// UnbindStation removes sess from a station's neighbor session set.
func (c *Center) UnbindStation(stationID string, sess *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.byStation[stationID]
	if !ok {
		return
	}
	delete(set, sess)
	if len(set) == 0 {
		delete(c.byStation, stationID)
	}
}

// Sessions returns a shallow copy of the active sessions bound to id. The
// returned slice is safe to iterate without holding the Center's lock
// (§5: "iteration... done under a short critical section or against a
// shallow copy").
func (c *Center) Sessions(id string) []*Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set := c.byUser[id]
	out := make([]*Session, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

// StationSessions returns a shallow copy of the active neighbor sessions
// bound to stationID.
func (c *Center) StationSessions(stationID string) []*Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set := c.byStation[stationID]
	out := make([]*Session, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

// ActiveStations returns the IDs of all stations with at least one active
// neighbor session, used by the broadcast neighbor snapshot (§4.7).
func (c *Center) ActiveStations() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.byStation))
	for id, set := range c.byStation {
		if len(set) > 0 {
			out = append(out, id)
		}
	}
	return out
}

// Users returns the identifiers currently bound to at least one session,
// used by the station's admin status endpoint and by BroadcastDeliver's
// EVERYONE local-copy fan-out.
func (c *Center) Users() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.byUser))
	for id := range c.byUser {
		out = append(out, id)
	}
	return out
}

// HasActiveUser reports whether id has at least one active user session.
func (c *Center) HasActiveUser(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byUser[id]) > 0
}
