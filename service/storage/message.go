//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=mocks/mock_store.go -package=mocks
package storage

import (
	"context"
	"time"

	"dmchat/tools/errs"
)

var ErrNotFound = errs.New("message not found")

// Message is one persisted chat unit. At least one of Text and File is set.
type Message struct {
	ID        string
	Sender    string
	Recipient string
	Text      string
	File      string // attachment reference, empty when no file was sent
	CreatedAt time.Time
}

func (m Message) HasContent() bool {
	return m.Text != "" || m.File != ""
}

// OnlineUser is one entry of a presence snapshot.
type OnlineUser struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// MessageStore persists messages. Append assigns ID and CreatedAt.
type MessageStore interface {
	Append(ctx context.Context, msg Message) (Message, error)
	Get(ctx context.Context, id string) (Message, error)
	// Conversation returns every message exchanged between a and b, oldest first.
	Conversation(ctx context.Context, a, b string) ([]Message, error)
	Delete(ctx context.Context, id string) error
}

// AttachmentStore keeps attachment bytes. Put may adjust name to avoid collisions
// and returns the reference clients use to fetch the bytes.
type AttachmentStore interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
	Delete(ctx context.Context, ref string) error
}
