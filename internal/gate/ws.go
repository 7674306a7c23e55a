package gate

import (
	"bufio"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/dim-network/station/internal/session"
)

// WS frames the DIM envelope inside RFC6455 binary websocket frames (§4.1,
// §6). Unlike mtp and mars, a websocket connection cannot be recognized by
// peeking raw stream bytes mid-handshake — the upgrade is an HTTP request —
// so WS is not registered with Sniff; instead cmd/station serves a
// dedicated upgrade endpoint (see Upgrade below) that hands a ready
// *Gate directly to the session layer.
type WS struct {
	conn *websocket.Conn
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Upgrade performs the HTTP->websocket upgrade and wraps the result as a
// Gate ready for Session.New. The caller supplies the already-split
// ResponseWriter/Request from its http.Handler.
func Upgrade(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*Gate, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("ws: upgrade: %w", err)
	}
	return NewWithDecoder(conn.UnderlyingConn(), WS{conn: conn}, logger), nil
}

// Sniff implements Decoder but is never consulted for WS (see doc comment);
// it always returns false so WS can still be listed alongside mtp/mars
// without misclassifying raw TCP connections.
func (WS) Sniff(peek []byte) bool { return false }

// Name implements Decoder.
func (WS) Name() string { return "ws" }

// Decode implements Decoder by reading one websocket message and treating
// its payload as the inner DIM frame.
func (w WS) Decode(_ *bufio.Reader) (Arrival, error) {
	_, payload, err := w.conn.ReadMessage()
	if err != nil {
		return Arrival{}, fmt.Errorf("ws: read message: %w", err)
	}
	return Arrival{Kind: KindMessage, Payload: payload}, nil
}

// Encode implements Decoder by writing d.Payload as one binary websocket
// message directly (bypassing the Gate's buffered writer, since gorilla's
// Conn manages its own framing).
func (w WS) Encode(d session.Departure) ([]byte, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, d.Payload); err != nil {
		return nil, fmt.Errorf("ws: write message: %w", err)
	}
	// Gate.Send writes the returned bytes again via the buffered writer;
	// returning nil makes that second write zero-length, so the payload
	// goes out only once, through the direct write above.
	return nil, nil
}
