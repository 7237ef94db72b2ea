package stream

import (
	"context"

	"github.com/gorilla/websocket"

	"videoseg/internal/session"
)

// RunClient dials the propagation endpoint at url (ws:// or wss://), sends
// the start message, and feeds every incoming message to rec until the
// stream completes. A clean done or a terminal error message returns nil
// (the error is recorded in rec's diagnostics); an unexpected transport
// close returns a TRANSPORT_CLOSED error after recording it.
func RunClient(ctx context.Context, url string, start StartMessage, rec *Reconciler) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return &session.Error{
			Code:    session.CodeTransportClosed,
			Message: "Failed to open propagation stream",
			Details: err.Error(),
		}
	}
	defer conn.Close()

	if err := conn.WriteJSON(start); err != nil {
		rec.Disconnected(err.Error())
		return &session.Error{
			Code:    session.CodeTransportClosed,
			Message: "Failed to send start message",
			Details: err.Error(),
		}
	}
	rec.Begin()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			// The server closes the connection after done/error and when a
			// stale generation is superseded; a normal close after terminal
			// messages is clean completion, anything mid-stream is not.
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) && !rec.Propagating() {
				return nil
			}
			rec.Disconnected(err.Error())
			return &session.Error{
				Code:    session.CodeTransportClosed,
				Message: "Propagation stream closed unexpectedly",
				Details: err.Error(),
			}
		}

		msg, err := Decode(data)
		if err != nil {
			rec.Disconnected(err.Error())
			return &session.Error{
				Code:    session.CodeTransportClosed,
				Message: "Malformed propagation message",
				Details: err.Error(),
			}
		}
		rec.Apply(msg)

		switch msg.(type) {
		case DoneMessage, ErrorMessage:
			return nil
		}
	}
}
