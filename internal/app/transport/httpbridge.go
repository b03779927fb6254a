package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPBridge implements Messenger against a companion messaging-provider
// process speaking a small JSON-over-HTTP protocol. The provider holds the
// actual encrypted-messaging session; the bot only issues commands and
// receives events pushed to its webhook (see httpapi).
type HTTPBridge struct {
	baseURL string
	client  *http.Client
	events  chan Event
}

// NewHTTPBridge creates a bridge talking to the provider at baseURL.
func NewHTTPBridge(baseURL string, client *http.Client) *HTTPBridge {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPBridge{
		baseURL: baseURL,
		client:  client,
		events:  make(chan Event, 128),
	}
}

func (b *HTTPBridge) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("provider %s: status %d: %s", path, resp.StatusCode, msg)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (b *HTTPBridge) CreateGroupChat(ctx context.Context, protected bool, title string) (int64, error) {
	var resp struct {
		ChatID int64 `json:"chat_id"`
	}
	err := b.post(ctx, "/chats", map[string]any{"protected": protected, "title": title}, &resp)
	return resp.ChatID, err
}

func (b *HTTPBridge) AddMember(ctx context.Context, chatID int64, contact string) error {
	return b.post(ctx, fmt.Sprintf("/chats/%d/members", chatID), map[string]any{"contact": contact}, nil)
}

func (b *HTTPBridge) SendText(ctx context.Context, chatID int64, text string) error {
	return b.post(ctx, fmt.Sprintf("/chats/%d/messages", chatID), map[string]any{"text": text}, nil)
}

func (b *HTTPBridge) SendBundle(ctx context.Context, chatID int64, path, text string) (int64, error) {
	var resp struct {
		MessageID int64 `json:"message_id"`
	}
	err := b.post(ctx, fmt.Sprintf("/chats/%d/messages", chatID),
		map[string]any{"text": text, "bundle_path": path}, &resp)
	return resp.MessageID, err
}

func (b *HTTPBridge) SendStatusUpdate(ctx context.Context, msgID int64, payload []byte) error {
	return b.post(ctx, fmt.Sprintf("/messages/%d/status-updates", msgID),
		map[string]any{"payload": json.RawMessage(payload)}, nil)
}

func (b *HTTPBridge) Events() <-chan Event { return b.events }

// webhookEvent is the JSON shape the provider pushes to the bot's webhook.
type webhookEvent struct {
	Kind       string          `json:"kind"`
	ChatID     int64           `json:"chat_id"`
	MessageID  int64           `json:"message_id"`
	Contact    string          `json:"contact"`
	Text       string          `json:"text"`
	BundlePath string          `json:"bundle_path"`
	Payload    json.RawMessage `json:"payload"`
}

// WebhookHandler returns the HTTP handler the admin server mounts to receive
// provider events. Events are forwarded to the dispatch loop in arrival order.
func (b *HTTPBridge) WebhookHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev webhookEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			http.Error(w, "bad event: "+err.Error(), http.StatusBadRequest)
			return
		}

		out := Event{
			ChatID:     ev.ChatID,
			MessageID:  ev.MessageID,
			Contact:    ev.Contact,
			Text:       ev.Text,
			BundlePath: ev.BundlePath,
			Payload:    []byte(ev.Payload),
		}
		switch ev.Kind {
		case "message":
			out.Kind = EventMessage
		case "status-update":
			out.Kind = EventStatusUpdate
		default:
			http.Error(w, "unknown event kind: "+ev.Kind, http.StatusBadRequest)
			return
		}

		select {
		case b.events <- out:
			w.WriteHeader(http.StatusAccepted)
		case <-r.Context().Done():
			http.Error(w, "cancelled", http.StatusServiceUnavailable)
		}
	})
}
