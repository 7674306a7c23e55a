package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/dim-network/station/internal/gate"
	"github.com/dim-network/station/internal/session"
)

// link is a minimal client-side connection to either the local station's
// Gate listener (the inner session) or one peer station's listener (an
// outer session). It reuses the station's MTP framing so octopus speaks
// the same wire protocol as any other station client (§4.11).
type link struct {
	conn   net.Conn
	reader *bufio.Reader

	mu     sync.Mutex
	writer *bufio.Writer
}

// dialLink opens a TCP connection to addr and wraps it for MTP framing.
func dialLink(addr string) (*link, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &link{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
	}, nil
}

// Push implements octopus.Peer by encoding d as an MTP frame.
func (l *link) Push(d session.Departure) error {
	wire, err := gate.MTP{}.Encode(d)
	if err != nil {
		return fmt.Errorf("encode departure: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.writer.Write(wire); err != nil {
		return fmt.Errorf("write departure: %w", err)
	}
	return l.writer.Flush()
}

// run decodes MTP Arrivals from the link until ctx is canceled or the
// connection errors, invoking onArrival for each message frame.
func (l *link) run(ctx context.Context, onArrival func(gate.Arrival), logger *slog.Logger) error {
	go func() {
		<-ctx.Done()
		l.conn.Close()
	}()
	for {
		arrival, err := gate.MTP{}.Decode(l.reader)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("decode arrival: %w", err)
		}
		onArrival(arrival)
	}
}

func (l *link) Close() error {
	return l.conn.Close()
}
