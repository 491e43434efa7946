package chat

import "time"

// Kind distinguishes text turns from photo turns.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// Sender identifies who produced a turn.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Message is one immutable conversation turn. For image turns Content holds
// an opaque local image reference, never the image bytes.
type Message struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Content   string    `json:"content"`
	Sender    Sender    `json:"sender"`
	CreatedAt time.Time `json:"createdAt"`
}
