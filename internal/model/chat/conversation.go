package chat

import "time"

// Conversation is a saved, read-only copy of a full chat.
type Conversation struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Messages       []Message `json:"messages"`
	UserName       string    `json:"userName"`
	ConsultantType string    `json:"consultantType"`
	Timestamp      time.Time `json:"timestamp"`
}
