package gate

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dim-network/station/internal/session"
)

// MTP is a length-prefixed typed packet framing (§4.1): a fixed 10-byte
// header (magic, type, transaction ID, body length) followed by the body.
//
// Header layout (big-endian):
//
//	byte 0:    magic (mtpMagic)
//	byte 1:    packet type (mtpTypeCommand | mtpTypeMessage | ...)
//	bytes 2-5: transaction ID (uint32)
//	bytes 6-9: body length (uint32)
type MTP struct{}

const (
	mtpMagic      = 0xD1
	mtpHeaderSize = 10

	mtpTypeCommand         = 0x00
	mtpTypeMessage         = 0x01
	mtpTypeCommandResponse = 0x02
	mtpTypeMessageResponse = 0x03
)

// Sniff implements Decoder.
func (MTP) Sniff(peek []byte) bool {
	return len(peek) > 0 && peek[0] == mtpMagic
}

// Name implements Decoder.
func (MTP) Name() string { return "mtp" }

// Decode implements Decoder.
func (MTP) Decode(r *bufio.Reader) (Arrival, error) {
	header := make([]byte, mtpHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return Arrival{}, err
	}
	if header[0] != mtpMagic {
		return Arrival{}, fmt.Errorf("mtp: bad magic byte %#x", header[0])
	}

	kind, err := mtpKindFromWire(header[1])
	if err != nil {
		return Arrival{}, err
	}
	txID := binary.BigEndian.Uint32(header[2:6])
	bodyLen := binary.BigEndian.Uint32(header[6:10])

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return Arrival{}, fmt.Errorf("mtp: read body: %w", err)
	}

	return Arrival{Kind: kind, TransactionID: txID, Payload: body}, nil
}

func mtpKindFromWire(b byte) (ArrivalKind, error) {
	switch b {
	case mtpTypeCommand:
		return KindCommand, nil
	case mtpTypeMessage:
		return KindMessage, nil
	case mtpTypeCommandResponse:
		return KindCommandResponse, nil
	case mtpTypeMessageResponse:
		return KindMessageResponse, nil
	default:
		return 0, fmt.Errorf("mtp: unknown packet type %#x", b)
	}
}

func mtpWireFromKind(k ArrivalKind) byte {
	switch k {
	case KindCommand:
		return mtpTypeCommand
	case KindCommandResponse:
		return mtpTypeCommandResponse
	case KindMessageResponse:
		return mtpTypeMessageResponse
	default:
		return mtpTypeMessage
	}
}

// Encode implements Decoder. Departures are always framed as messages;
// command framing is only meaningful on the inbound (client-initiated)
// side.
func (MTP) Encode(d session.Departure) ([]byte, error) {
	header := make([]byte, mtpHeaderSize)
	header[0] = mtpMagic
	header[1] = mtpWireFromKind(KindMessage)
	binary.BigEndian.PutUint32(header[2:6], 0)
	binary.BigEndian.PutUint32(header[6:10], uint32(len(d.Payload)))
	return append(header, d.Payload...), nil
}
