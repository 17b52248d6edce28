package signaling

import (
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/1ureka/duocall/internal/protocol"
	"github.com/1ureka/duocall/internal/util"
)

// receiver reads envelopes from the WebSocket and hands them to dispatch.
type receiver struct {
	conn     *websocket.Conn
	dispatch func(*protocol.Envelope)
}

// watch blocks until the connection fails or is closed. Malformed frames are
// logged and skipped.
func (r *receiver) watch() error {
	r.conn.SetReadLimit(protocol.MaxEnvelopeSize)
	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed to read WS message: %w", err)
		}

		env, err := protocol.Decode(data)
		if err != nil {
			util.LogWarning("dropping signaling frame: %v", err)
			continue
		}
		r.dispatch(env)
	}
}
