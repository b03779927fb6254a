package transport

import (
	"context"
	"sync"
)

// Fake is an in-memory Messenger for tests. It records everything sent and
// lets tests inject inbound events.
type Fake struct {
	mu         sync.Mutex
	nextChatID int64
	nextMsgID  int64

	events chan Event

	Chats   []FakeChat
	Texts   []FakeText
	Bundles []FakeBundle
	Updates []FakeUpdate
}

// FakeChat records a created group chat.
type FakeChat struct {
	ChatID    int64
	Protected bool
	Title     string
	Members   []string
}

// FakeText records a sent text message.
type FakeText struct {
	ChatID int64
	Text   string
}

// FakeBundle records a sent bundle attachment.
type FakeBundle struct {
	ChatID int64
	MsgID  int64
	Path   string
	Text   string
}

// FakeUpdate records a sent status update.
type FakeUpdate struct {
	MsgID   int64
	Payload []byte
}

// NewFake creates a fake messenger with room for buffered inbound events.
func NewFake() *Fake {
	return &Fake{
		nextChatID: 1000,
		nextMsgID:  5000,
		events:     make(chan Event, 64),
	}
}

func (f *Fake) CreateGroupChat(_ context.Context, protected bool, title string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextChatID++
	f.Chats = append(f.Chats, FakeChat{ChatID: f.nextChatID, Protected: protected, Title: title})
	return f.nextChatID, nil
}

func (f *Fake) AddMember(_ context.Context, chatID int64, contact string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.Chats {
		if f.Chats[i].ChatID == chatID {
			f.Chats[i].Members = append(f.Chats[i].Members, contact)
		}
	}
	return nil
}

func (f *Fake) SendText(_ context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Texts = append(f.Texts, FakeText{ChatID: chatID, Text: text})
	return nil
}

func (f *Fake) SendBundle(_ context.Context, chatID int64, path, text string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextMsgID++
	f.Bundles = append(f.Bundles, FakeBundle{ChatID: chatID, MsgID: f.nextMsgID, Path: path, Text: text})
	return f.nextMsgID, nil
}

func (f *Fake) SendStatusUpdate(_ context.Context, msgID int64, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Updates = append(f.Updates, FakeUpdate{MsgID: msgID, Payload: append([]byte(nil), payload...)})
	return nil
}

func (f *Fake) Events() <-chan Event { return f.events }

// Deliver injects an inbound event.
func (f *Fake) Deliver(ev Event) { f.events <- ev }

// Close closes the inbound event stream, ending the bot's dispatch loop.
func (f *Fake) Close() { close(f.events) }

// TextsTo returns the texts sent to one chat.
func (f *Fake) TextsTo(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, t := range f.Texts {
		if t.ChatID == chatID {
			out = append(out, t.Text)
		}
	}
	return out
}

// UpdatesTo returns the status updates sent to one helper message.
func (f *Fake) UpdatesTo(msgID int64) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for _, u := range f.Updates {
		if u.MsgID == msgID {
			out = append(out, u.Payload)
		}
	}
	return out
}
