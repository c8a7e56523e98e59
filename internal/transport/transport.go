// Package transport provides the server connection collaborator spec.md
// §6.5 leaves external to the core: request/response delivery of packed
// audio blobs plus a metadata side-channel, over a websocket.
package transport

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tphakala/bucketbrigade/internal/errors"
)

// ComponentTransport is the errors.Component tag for this package.
const ComponentTransport = "transport"

// Request is one outbound server request (spec.md §6.5): the client's
// encoded mic chunk plus metadata (userid, username, audio_offset_seconds,
// and any user event annotations accumulated via declare_event).
type Request struct {
	Chunk    ChunkPayload   `json:"chunk"`
	Metadata map[string]any `json:"metadata"`
	Epoch    uint64         `json:"epoch"`
}

// ChunkPayload carries enough of a server-referenced chunk to reconstruct
// it on the client: either compressed audio bytes, or (IsPlaceholder) a
// dimensionless placeholder interval.
type ChunkPayload struct {
	IsPlaceholder bool   `json:"is_placeholder"`
	Data          []byte `json:"data,omitempty"`
	End           int64  `json:"end"`
	Length        int64  `json:"length"`
}

// Response is the server's reply. A nil *Response with a nil error means
// the connection reported no data (connectivity lost, spec.md §6.5); a
// non-nil Response with a nil Chunk is the normal "nothing to return yet"
// case.
type Response struct {
	Metadata map[string]any `json:"metadata"`
	Chunk    *ChunkPayload  `json:"chunk,omitempty"`
	Epoch    uint64         `json:"epoch"`
}

// ServerConnection is the transport contract the singer client drives;
// spec.md leaves its implementation external.
type ServerConnection interface {
	Send(ctx context.Context, req Request) (*Response, error)
	Close() error
}

// WebSocketConnection is a concrete ServerConnection backed by
// github.com/gorilla/websocket. Each Send writes one JSON-framed Request
// and reads back one JSON-framed Response; a close/read error is reported
// as a (nil, nil) response, matching the "absent body signals connectivity
// loss" rule of spec.md §6.5 rather than propagating as a fatal error.
type WebSocketConnection struct {
	conn *websocket.Conn
}

// Dial opens a websocket connection to url.
func Dial(ctx context.Context, url string) (*WebSocketConnection, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.New(err).
			Component(ComponentTransport).
			Category(errors.CategoryConnectivity).
			Context("error", "failed to dial server").
			Context("url", url).
			Build()
	}
	return &WebSocketConnection{conn: conn}, nil
}

// Send transmits req and waits for the matching response.
func (w *WebSocketConnection) Send(ctx context.Context, req Request) (*Response, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = w.conn.SetWriteDeadline(deadline)
		_ = w.conn.SetReadDeadline(deadline)
	}

	if err := w.conn.WriteJSON(req); err != nil {
		return nil, nil
	}

	var resp Response
	if err := w.conn.ReadJSON(&resp); err != nil {
		return nil, nil
	}
	return &resp, nil
}

// Close shuts down the underlying websocket connection.
func (w *WebSocketConnection) Close() error {
	return w.conn.Close()
}
