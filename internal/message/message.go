// Package message defines the wire envelope types routed by the station:
// ReliableMessage, LoginCommand, and the small Content model returned by
// deliver strategies and content processors.
//
// Layout mirrors the teacher's packet package in spirit (plain structs,
// explicit JSON tags, pure helper methods) but the wire format here is
// JSON, matching the DIM network's actual envelope encoding instead of the
// teacher's fixed-width binary header.
package message

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Bytes is a base64-on-the-wire opaque byte string (signatures, ciphertext,
// encrypted keys). Using a named type keeps (de)serialization centralized
// instead of scattering base64 calls through call sites.
type Bytes []byte

// MarshalJSON encodes Bytes as a base64 string.
func (b Bytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(base64.StdEncoding.EncodeToString(b))
}

// UnmarshalJSON decodes a base64 string into Bytes.
func (b *Bytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*b = nil
		return nil
	}
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return fmt.Errorf("decode base64 payload: %w", err)
	}
	*b = decoded
	return nil
}

// ReliableMessage is a signed ciphertext envelope routed by the station.
// Fields mirror §3 DATA MODEL exactly; sender/receiver/time/signature/data
// never change once constructed, traces is append-only, recipients and
// target are transport metadata mutated only by the routing pipeline.
type ReliableMessage struct {
	Sender    string         `json:"sender"`
	Receiver  string         `json:"receiver"`
	Time      int64          `json:"time"`
	Signature Bytes          `json:"signature"`
	Data      Bytes          `json:"data"`
	Key       Bytes          `json:"key,omitempty"`
	Keys      map[string]Bytes `json:"keys,omitempty"`
	Group     string         `json:"group,omitempty"`

	// Traces is the ordered list of station IDs this message has passed
	// through. Append-only; monotonically grows along the delivery path.
	Traces []string `json:"traces,omitempty"`

	// Recipients lists the stations already enumerated for broadcast
	// expansion, so downstream hops cannot re-enumerate the same targets.
	Recipients []string `json:"recipients,omitempty"`

	// Target is an explicit redirect destination set by the Octopus bridge
	// (msg["target"] = <user>) for roaming replay over the bridge.
	Target string `json:"target,omitempty"`
}

// ErrEmptySignature is returned by Fingerprint when the signature is absent.
var ErrEmptySignature = errors.New("message: signature is empty")

// Fingerprint returns the message's log fingerprint: the last 8 bytes of
// its signature, hex-encoded. Used for compact structured-log identifiers
// and as the dedup key mentioned in §4.9 (callers should prefer the full
// signature for actual dedup; Fingerprint is for display only).
func (m *ReliableMessage) Fingerprint() (string, error) {
	if len(m.Signature) == 0 {
		return "", ErrEmptySignature
	}
	sig := m.Signature
	n := len(sig)
	start := n - 8
	if start < 0 {
		start = 0
	}
	return fmt.Sprintf("%x", []byte(sig[start:n])), nil
}

// SignatureKey returns the deduplication key used by the offline store:
// the raw signature bytes as a string. Two envelopes with byte-identical
// signatures are considered the same message (§4.9: "Deduplication key:
// signature").
func (m *ReliableMessage) SignatureKey() string {
	return string(m.Signature)
}

// HasTraced reports whether stationID already appears in Traces.
func (m *ReliableMessage) HasTraced(stationID string) bool {
	for _, t := range m.Traces {
		if t == stationID {
			return true
		}
	}
	return false
}

// AppendTrace appends stationID to Traces if not already present, enforcing
// the "station ID appears at most once" invariant (§8 TESTABLE PROPERTIES).
func (m *ReliableMessage) AppendTrace(stationID string) {
	if m.HasTraced(stationID) {
		return
	}
	m.Traces = append(m.Traces, stationID)
}

// RecipientSet returns Recipients as a set for membership tests.
func (m *ReliableMessage) RecipientSet() map[string]struct{} {
	set := make(map[string]struct{}, len(m.Recipients))
	for _, r := range m.Recipients {
		set[r] = struct{}{}
	}
	return set
}

// MergeRecipients sets m.Recipients to the union of its current value and
// newOnes, preserving insertion order and without duplicates. This is the
// operation §4.7 step 3 requires: "Update msg[recipients] = old ∪ new
// before forwarding so downstream hops cannot re-enumerate the same
// targets."
func (m *ReliableMessage) MergeRecipients(newOnes []string) {
	seen := m.RecipientSet()
	for _, r := range newOnes {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		m.Recipients = append(m.Recipients, r)
	}
}

// Clone returns a deep-enough copy of m suitable for independent mutation
// by concurrent broadcast-expansion branches (each recursive deliver gets
// its own Recipients/Traces slice header).
func (m *ReliableMessage) Clone() *ReliableMessage {
	clone := *m
	clone.Traces = append([]string(nil), m.Traces...)
	clone.Recipients = append([]string(nil), m.Recipients...)
	if m.Keys != nil {
		clone.Keys = make(map[string]Bytes, len(m.Keys))
		for k, v := range m.Keys {
			clone.Keys[k] = v
		}
	}
	return &clone
}

// Content is a decrypted response/command payload produced by a deliver
// strategy or content processor (e.g. a "Message delivering" receipt, or a
// "DIM?" re-handshake challenge). The messenger wraps Content values into
// outgoing ReliableMessage envelopes addressed back to the sender.
type Content struct {
	Type    string         `json:"type"`
	SN      uint64         `json:"sn"`
	Time    int64          `json:"time"`
	Fields  map[string]any `json:"-"`
}

// NewContent creates a Content of the given command type stamped with the
// current time and a caller-supplied serial number.
func NewContent(kind string, sn uint64, now time.Time) *Content {
	return &Content{Type: kind, SN: sn, Time: now.Unix()}
}

// MarshalJSON flattens Fields alongside the typed header fields, matching
// the DIM wire convention of a command dict with free-form extra keys.
func (c *Content) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Fields)+3)
	for k, v := range c.Fields {
		out[k] = v
	}
	out["type"] = c.Type
	out["sn"] = c.SN
	out["time"] = c.Time
	return json.Marshal(out)
}

// UnmarshalJSON lifts unknown keys into Fields while populating the typed
// header fields.
func (c *Content) UnmarshalJSON(data []byte) error {
	raw := map[string]any{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["type"].(string); ok {
		c.Type = v
		delete(raw, "type")
	}
	if v, ok := raw["sn"].(float64); ok {
		c.SN = uint64(v)
		delete(raw, "sn")
	}
	if v, ok := raw["time"].(float64); ok {
		c.Time = int64(v)
		delete(raw, "time")
	}
	c.Fields = raw
	return nil
}

// Get returns an extra field value and whether it was present.
func (c *Content) Get(key string) (any, bool) {
	if c.Fields == nil {
		return nil, false
	}
	v, ok := c.Fields[key]
	return v, ok
}

// Set stores an extra field value, lazily allocating Fields.
func (c *Content) Set(key string, value any) {
	if c.Fields == nil {
		c.Fields = map[string]any{}
	}
	c.Fields[key] = value
}

// LoginCommand is a signed statement of which station a user is currently
// attached to (GLOSSARY). The server persists the latest one per user and
// the Roamer consults it to decide where to redirect messages.
type LoginCommand struct {
	User      string `json:"user"`
	Station   string `json:"station"`
	Time      int64  `json:"time"`
}

// LoginSnapshot pairs a LoginCommand with the signed envelope it arrived
// in, exactly as §3 specifies: "the latest observed (command, envelope)".
type LoginSnapshot struct {
	Command  LoginCommand
	Envelope *ReliableMessage
}
