// Package hub fans dashboard events out to websocket subscribers through a
// single goroutine that owns the subscriber set.
package hub

// MessageType selects the websocket frame type.
type MessageType int

const (
	// TextMessage carries JSON.
	TextMessage MessageType = iota
	// BinaryMessage carries raw bytes such as JPEG frames.
	BinaryMessage
)

// Message is one broadcast payload.
type Message struct {
	Type MessageType
	Data []byte
}

// Text wraps pre-encoded JSON.
func Text(data []byte) Message {
	return Message{Type: TextMessage, Data: data}
}

// Binary wraps raw bytes.
func Binary(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}
