package protocol

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// Codec handles reading and writing JSON control messages over a
// websocket connection. Every message is a single text frame, matching
// spec.md §6: the control channel carries one buffered JSON object per
// logical message, never a chunked or streamed body.
type Codec struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewCodec wraps a websocket connection with JSON message encoding/decoding.
func NewCodec(conn *websocket.Conn) *Codec {
	return &Codec{conn: conn}
}

// WriteJSON serialises v and sends it as a single websocket text message.
// Writes are serialised with a mutex because the underlying connection
// is not safe for concurrent writers (spec.md §4.3).
func (c *Codec) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshalling control message: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// ReadMessage reads one websocket text message and returns its type tag
// (sniffed from the "type" field, empty string if absent) plus the raw
// JSON bytes so the caller can unmarshal into the concrete struct.
func (c *Codec) ReadMessage() (msgType string, raw []byte, err error) {
	wsType, data, err := c.conn.ReadMessage()
	if err != nil {
		return "", nil, fmt.Errorf("reading websocket message: %w", err)
	}
	if wsType != websocket.TextMessage {
		return "", nil, fmt.Errorf("unexpected websocket message type: %d", wsType)
	}
	var probe typeProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return "", nil, fmt.Errorf("sniffing control message type: %w", err)
	}
	return probe.Type, data, nil
}

// Close closes the underlying websocket connection.
func (c *Codec) Close() error {
	return c.conn.Close()
}
