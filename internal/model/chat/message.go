package chat

import "time"

// Sender 标识消息发送方。
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Valid reports whether s is one of the two known senders.
func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderBot
}

// MessageType distinguishes plain text turns from recorded or synthesized audio.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeAudio MessageType = "audio"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	return t == TypeText || t == TypeAudio
}

// Message is a single immutable chat turn.
type Message struct {
	ID        string      `json:"id"`
	Text      string      `json:"text"`
	Sender    Sender      `json:"sender"`
	Timestamp time.Time   `json:"timestamp"`
	Type      MessageType `json:"type"`
	URI       string      `json:"uri,omitempty"`
	Duration  int64       `json:"duration,omitempty"` // milliseconds
}
