package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	// readWait bounds an idle connection; clients ping well inside it.
	readWait = 5 * time.Minute
)

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func WriteError(conn *websocket.Conn, ref, code, errMsg string) error {
	return WriteTyped(conn, ErrorResponse{
		Event: EventError,
		Ref:   ref,
		Code:  code,
		Error: errMsg,
	})
}

// ReadJSON reads and decodes a message into v under a read deadline.
func ReadJSON(conn *websocket.Conn, v interface{}) error {
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	return conn.ReadJSON(v)
}
