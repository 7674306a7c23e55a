package gate

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/dim-network/station/internal/session"
)

func TestMTPEncodeDecodeRoundTrip(t *testing.T) {
	var m MTP
	wire, err := m.Encode(session.Departure{Payload: []byte("hello"), Priority: session.PriorityNormal})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !m.Sniff(wire) {
		t.Fatalf("expected Sniff to recognize its own encoded frame")
	}

	arrival, err := m.Decode(bufio.NewReader(bytes.NewReader(wire)))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(arrival.Payload) != "hello" {
		t.Fatalf("got payload %q, want %q", arrival.Payload, "hello")
	}
	if arrival.Kind != KindMessage {
		t.Fatalf("expected KindMessage, got %v", arrival.Kind)
	}
}

func TestMTPSniffRejectsNonMTPPreamble(t *testing.T) {
	var m MTP
	if m.Sniff([]byte{0x00, 0x01, 0x02, 0x03}) {
		t.Fatalf("expected Sniff to reject a non-MTP preamble")
	}
}

func TestMTPDecodeMultipleFramesSequentially(t *testing.T) {
	var m MTP
	wire1, _ := m.Encode(session.Departure{Payload: []byte("first")})
	wire2, _ := m.Encode(session.Departure{Payload: []byte("second")})
	r := bufio.NewReader(bytes.NewReader(append(wire1, wire2...)))

	a1, err := m.Decode(r)
	if err != nil {
		t.Fatalf("decode first: %v", err)
	}
	a2, err := m.Decode(r)
	if err != nil {
		t.Fatalf("decode second: %v", err)
	}
	if string(a1.Payload) != "first" || string(a2.Payload) != "second" {
		t.Fatalf("got %q, %q", a1.Payload, a2.Payload)
	}
}
