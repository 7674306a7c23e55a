package gate

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dim-network/station/internal/session"
)

var marsSNDecoding = base64.StdEncoding

// Mars is a length-prefixed framing with a 4-byte header (cmd, seq,
// bodyLen) whose body may begin with a "Mars SN:<base64>\n" line
// overriding the sequence-derived transaction ID (§4.1).
//
// Header layout (big-endian):
//
//	byte 0:    cmd (marsCmdSendMsg | marsCmdPushMessage | marsCmdNoop)
//	byte 1:    seq
//	bytes 2-3: body length (uint16)
type Mars struct{}

const (
	marsHeaderSize = 4

	marsCmdNoop        = 0x00
	marsCmdSendMsg     = 0x01
	marsCmdPushMessage = 0x02

	marsSNPrefix = "Mars SN:"
	marsPingBody = "PING"
	marsPongBody = "PONG"
)

// Sniff implements Decoder. Mars's first byte is always one of the three
// recognized commands and is never mtpMagic or the ASCII 'G' that begins a
// websocket upgrade request line, which is sufficient to disambiguate it
// from the other two framings at this 4-byte window.
func (Mars) Sniff(peek []byte) bool {
	if len(peek) == 0 {
		return false
	}
	switch peek[0] {
	case marsCmdNoop, marsCmdSendMsg, marsCmdPushMessage:
		return true
	default:
		return false
	}
}

// Name implements Decoder.
func (Mars) Name() string { return "mars" }

// Decode implements Decoder.
func (Mars) Decode(r *bufio.Reader) (Arrival, error) {
	header := make([]byte, marsHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return Arrival{}, err
	}
	cmd := header[0]
	seq := header[1]
	bodyLen := binary.BigEndian.Uint16(header[2:4])

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return Arrival{}, fmt.Errorf("mars: read body: %w", err)
	}

	txID := uint32(seq)
	if rest, ok := bytes.CutPrefix(body, []byte(marsSNPrefix)); ok {
		line, remainder, _ := bytes.Cut(rest, []byte("\n"))
		if sn, err := parseMarsSN(line); err == nil {
			txID = sn
		}
		body = remainder
	}

	if cmd == marsCmdNoop && bytes.Equal(bytes.TrimSpace(body), []byte(marsPingBody)) {
		return Arrival{Kind: KindCommand, TransactionID: txID, Payload: []byte(marsPongBody)}, nil
	}

	return Arrival{Kind: KindMessage, TransactionID: txID, Payload: body}, nil
}

func parseMarsSN(line []byte) (uint32, error) {
	// The override is base64 of a big-endian uint32 transaction ID.
	decoded, err := marsSNDecoding.DecodeString(string(line))
	if err != nil {
		return 0, fmt.Errorf("mars: decode SN override: %w", err)
	}
	if len(decoded) < 4 {
		return 0, fmt.Errorf("mars: SN override too short")
	}
	return binary.BigEndian.Uint32(decoded[:4]), nil
}

// Encode implements Decoder.
func (Mars) Encode(d session.Departure) ([]byte, error) {
	header := make([]byte, marsHeaderSize)
	header[0] = marsCmdSendMsg
	header[1] = 0
	binary.BigEndian.PutUint16(header[2:4], uint16(len(d.Payload)))
	return append(header, d.Payload...), nil
}
