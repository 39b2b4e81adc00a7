package model

import "time"

// Stream message types.
const (
	MessagePartial = "partial"
	MessageFinal   = "final"
	MessageError   = "error"
)

// Message is one unit of output sent to a streaming client.
type Message struct {
	Type      string  `json:"type"`
	Text      string  `json:"text"`
	Timestamp float64 `json:"timestamp"`
}

// NewMessage builds a message stamped with the current Unix time in seconds.
func NewMessage(typ, text string) Message {
	now := time.Now()
	return Message{
		Type:      typ,
		Text:      text,
		Timestamp: float64(now.UnixNano()) / float64(time.Second),
	}
}
