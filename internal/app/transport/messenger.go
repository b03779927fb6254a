// Package transport defines the messaging-provider interface the bot consumes
// and the event types its dispatch loop processes. The provider owns chat
// creation, membership, message delivery and attachment transfer; the bot
// treats all of it as opaque.
package transport

import "context"

// EventKind distinguishes the inbound event types the bot handles.
type EventKind int

const (
	// EventMessage is a chat message, possibly carrying a bundle attachment.
	EventMessage EventKind = iota
	// EventStatusUpdate is a front-end status update addressed to a helper
	// message the bot sent earlier.
	EventStatusUpdate
)

// String implements fmt.Stringer for log fields.
func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventStatusUpdate:
		return "status-update"
	}
	return "unknown"
}

// Event is one inbound transport event.
type Event struct {
	Kind      EventKind
	ChatID    int64
	MessageID int64

	// Contact is the sending contact's address.
	Contact string

	// Text is the message text, empty for pure attachment messages.
	Text string

	// BundlePath is the local path of a received bundle attachment, empty
	// when the message has none.
	BundlePath string

	// Payload is the raw status-update JSON for EventStatusUpdate.
	Payload []byte
}

// Messenger is the messaging-provider capability the bot consumes.
type Messenger interface {
	// CreateGroupChat creates a group chat and returns its id.
	CreateGroupChat(ctx context.Context, protected bool, title string) (int64, error)
	// AddMember adds a contact to a group chat.
	AddMember(ctx context.Context, chatID int64, contact string) error
	// SendText posts a plain text message.
	SendText(ctx context.Context, chatID int64, text string) error
	// SendBundle posts a bundle attachment and returns the message id, which
	// later status updates are addressed to.
	SendBundle(ctx context.Context, chatID int64, path, text string) (int64, error)
	// SendStatusUpdate delivers a JSON payload to the front-end instance
	// attached to the given message.
	SendStatusUpdate(ctx context.Context, msgID int64, payload []byte) error

	// Events yields inbound events in delivery order.
	Events() <-chan Event
}
