// Package ident implements DIM network identifiers.
//
// An ID is an opaque string of the form "name@address[/terminal]" carrying
// a numeric entity type. Parsing is pure and allocation-light, mirroring the
// teacher's discriminator package: small value types, a handful of sentinel
// well-knowns, and no hidden global state.
package ident

import (
	"strings"
)

// EntityType is the numeric type carried by an ID, analogous to a BFD
// session type tag but for network entities instead of sessions.
type EntityType uint8

const (
	// TypeUnknown is the zero value for an unparsed or invalid entity type.
	TypeUnknown EntityType = iota
	// TypeUser identifies an ordinary end-user account.
	TypeUser
	// TypeGroup identifies a group/chatroom entity.
	TypeGroup
	// TypeStation identifies a station (server) node.
	TypeStation
	// TypeBot identifies an assistant bot (e.g. group assistant, archivist).
	TypeBot
	// TypeISP identifies an Internet Service Provider entity.
	TypeISP
)

// String returns the human-readable name of the entity type.
func (t EntityType) String() string {
	switch t {
	case TypeUser:
		return "user"
	case TypeGroup:
		return "group"
	case TypeStation:
		return "station"
	case TypeBot:
		return "bot"
	case TypeISP:
		return "isp"
	default:
		return "unknown"
	}
}

// Broadcast address fragments (GLOSSARY: "Broadcast ID").
const (
	addrAnywhere   = "anywhere"
	addrEverywhere = "everywhere"
)

// ID is an opaque, immutable DIM network identifier.
//
// ID is a plain value type (like a parsed BFD discriminator): comparable,
// hashable, safe to use as a map key. It is never mutated after Parse.
type ID struct {
	name     string
	address  string
	terminal string
	kind     EntityType
	raw      string
}

// Empty reports whether id is the zero value (unparsed).
func (id ID) Empty() bool { return id.raw == "" }

// String returns the canonical wire representation: "name@address[/terminal]".
func (id ID) String() string { return id.raw }

// Name returns the "name" part of the identifier.
func (id ID) Name() string { return id.name }

// Address returns the "address" part of the identifier.
func (id ID) Address() string { return id.address }

// Terminal returns the "/terminal" suffix, or "" if absent.
func (id ID) Terminal() string { return id.terminal }

// Type returns the entity type carried by the identifier.
func (id ID) Type() EntityType { return id.kind }

// Equal reports whether two IDs denote the same entity (ignoring terminal,
// per DIM convention: the terminal only disambiguates client instances).
func (id ID) Equal(other ID) bool {
	return id.name == other.name && id.address == other.address
}

// IsBroadcast reports whether the address part is "anywhere" or "everywhere".
func (id ID) IsBroadcast() bool {
	return id.address == addrAnywhere || id.address == addrEverywhere
}

// IsGroup reports whether the entity type is a group.
func (id ID) IsGroup() bool { return id.kind == TypeGroup }

// IsUser reports whether the entity type is an ordinary user.
func (id ID) IsUser() bool { return id.kind == TypeUser }

// IsStation reports whether the entity type is a station.
func (id ID) IsStation() bool { return id.kind == TypeStation }

// Parse decodes a wire identifier string of the form "name@address[/terminal]".
// The entity type must be supplied by the caller (callers typically look it
// up from a meta/document cache); Parse alone cannot recover it from the
// string, except for the well-known broadcast singletons below, which are
// always resolved to their fixed type.
func Parse(s string, kind EntityType) ID {
	raw := s
	name, rest, hasAt := strings.Cut(s, "@")
	if !hasAt {
		return ID{raw: raw, name: s, kind: kind}
	}
	address, terminal, _ := strings.Cut(rest, "/")

	if resolved, ok := wellKnown[raw]; ok {
		return resolved
	}

	return ID{
		raw:      raw,
		name:     name,
		address:  address,
		terminal: terminal,
		kind:     kind,
	}
}

// New builds an ID from its parts without going through wire parsing.
func New(name, address, terminal string, kind EntityType) ID {
	raw := name + "@" + address
	if terminal != "" {
		raw += "/" + terminal
	}
	return ID{raw: raw, name: name, address: address, terminal: terminal, kind: kind}
}

// Well-known singletons (§3 DATA MODEL).
var (
	// Anyone is the plaintext pre-handshake broadcast target "anyone@anywhere".
	Anyone = New("anyone", addrAnywhere, "", TypeUser)
	// Everyone is the all-users broadcast target "everyone@everywhere".
	Everyone = New("everyone", addrEverywhere, "", TypeUser)
	// StationAny is "station@anywhere", used before a client knows the
	// station's real identifier.
	StationAny = New("station", addrAnywhere, "", TypeStation)
	// StationEvery is "stations@everywhere", the inter-station broadcast target.
	StationEvery = New("stations", addrEverywhere, "", TypeStation)
)

var wellKnown = map[string]ID{
	Anyone.raw:       Anyone,
	Everyone.raw:      Everyone,
	StationAny.raw:    StationAny,
	StationEvery.raw:  StationEvery,
}

// IsBroadcastName reports whether name@anywhere denotes a user-broadcast
// name to be resolved via ANS (e.g. "archivist@anywhere").
func IsBroadcastName(id ID) bool {
	return id.address == addrAnywhere && !id.Equal(StationAny) && !id.Equal(Anyone)
}
