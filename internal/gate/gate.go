// Package gate implements the Transport Gate (§4.1): one goroutine per
// connection that sniffs the first bytes to select a wire framing (mtp,
// mars, or ws), decodes inbound Arrivals, and encodes outbound Departures
// drawn from the owning Session's outbound queue.
package gate

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/dim-network/station/internal/session"
)

// ArrivalKind distinguishes the four MTP packet kinds (§4.1); mars and ws
// frames are always KindMessage.
type ArrivalKind uint8

const (
	KindMessage ArrivalKind = iota
	KindCommand
	KindCommandResponse
	KindMessageResponse
)

// Arrival is one decoded inbound frame.
type Arrival struct {
	Kind          ArrivalKind
	TransactionID uint32
	Payload       []byte
}

// sniffWindow is how many bytes Decoder.Sniff inspects to pick a framing.
const sniffWindow = 4

// Decoder implements one wire framing's sniff/decode/encode contract. mtp
// and mars implement this directly over a bufio.Reader; ws is driven
// separately by its own HTTP upgrade handler (see ws.go) since a websocket
// handshake cannot be sniffed from raw stream bytes the way the two binary
// framings can.
type Decoder interface {
	// Sniff reports whether peek (the first sniffWindow bytes of the
	// connection) belongs to this framing.
	Sniff(peek []byte) bool
	// Decode reads exactly one frame from r.
	Decode(r *bufio.Reader) (Arrival, error)
	// Encode serializes one outbound Departure's payload into wire bytes.
	Encode(d session.Departure) ([]byte, error)
	// Name returns the framing's short label ("mtp", "mars", "ws"), used
	// for the metrics.Collector.Sessions transport label.
	Name() string
}

// ErrNoFramingMatched is returned when no registered Decoder recognizes the
// connection's first bytes.
var ErrNoFramingMatched = errors.New("gate: no framing recognized the connection preamble")

// Gate owns one connection's I/O and framing. It implements
// session.GateController.
type Gate struct {
	conn    net.Conn
	reader  *bufio.Reader
	writer  *bufio.Writer
	decoder Decoder
	logger  *slog.Logger

	mu     sync.Mutex
	status session.GateStatus
	closed bool
}

// Sniff selects a Decoder for conn by peeking its first bytes against each
// candidate in order and wraps conn in a Gate. The caller is responsible
// for handing the returned Gate to a new Session.
func Sniff(conn net.Conn, decoders []Decoder, logger *slog.Logger) (*Gate, error) {
	reader := bufio.NewReaderSize(conn, 4096)
	peek, err := reader.Peek(sniffWindow)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("gate: peek preamble: %w", err)
	}

	for _, d := range decoders {
		if d.Sniff(peek) {
			return &Gate{
				conn:    conn,
				reader:  reader,
				writer:  bufio.NewWriter(conn),
				decoder: d,
				logger:  logger,
				status:  session.GateReady,
			}, nil
		}
	}
	conn.Close()
	return nil, ErrNoFramingMatched
}

// Transport returns the selected framing's short label ("mtp", "mars",
// "ws"), used to label session metrics by actual wire framing instead of
// the raw connection-accept transport.
func (g *Gate) Transport() string {
	return g.decoder.Name()
}

// NewWithDecoder constructs a Gate around an already-selected decoder,
// used by the ws upgrade handler which has no raw preamble to sniff.
func NewWithDecoder(conn net.Conn, decoder Decoder, logger *slog.Logger) *Gate {
	return &Gate{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		writer:  bufio.NewWriter(conn),
		decoder: decoder,
		logger:  logger,
		status:  session.GateReady,
	}
}

// RemoteAddrString returns the underlying connection's remote address as a
// string, used to seed Session.remoteAddr for logging.
func (g *Gate) RemoteAddrString() string {
	return g.conn.RemoteAddr().String()
}

// Status implements session.GateController.
func (g *Gate) Status() session.GateStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

func (g *Gate) setStatus(s session.GateStatus) {
	g.mu.Lock()
	g.status = s
	g.mu.Unlock()
}

// Close implements session.GateController.
func (g *Gate) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.status = session.GateError
	g.mu.Unlock()
	return g.conn.Close()
}

// ReadLoop decodes Arrivals until ctx is canceled or the connection errors,
// invoking onArrival for each one (§5: "one logical task per Gate: reads
// bytes, feeds the framer, surfaces Arrivals").
func (g *Gate) ReadLoop(ctx context.Context, onArrival func(Arrival)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		arrival, err := g.decoder.Decode(g.reader)
		if err != nil {
			g.setStatus(session.GateError)
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("gate: decode frame: %w", err)
		}
		onArrival(arrival)
	}
}

// Send encodes and writes one Departure.
func (g *Gate) Send(d session.Departure) error {
	wire, err := g.decoder.Encode(d)
	if err != nil {
		return fmt.Errorf("gate: encode departure: %w", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return fmt.Errorf("gate: send on closed connection")
	}
	if _, err := g.writer.Write(wire); err != nil {
		return fmt.Errorf("gate: write departure: %w", err)
	}
	return g.writer.Flush()
}

// WriteLoop drains sess's outbound queue and hands each Departure to Send
// until the queue is closed (§5: single-consumer gate writer).
func (g *Gate) WriteLoop(sess *session.Session) {
	for {
		d, ok := sess.Queue().PopWait()
		if !ok {
			return
		}
		if err := g.Send(d); err != nil {
			g.logger.Warn("gate write failed", slog.String("error", err.Error()))
			return
		}
		sess.MarkSent()
	}
}
