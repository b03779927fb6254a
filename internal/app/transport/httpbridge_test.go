package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWebhookHandlerForwardsEvents(t *testing.T) {
	bridge := NewHTTPBridge("http://unused", nil)
	srv := httptest.NewServer(bridge.WebhookHandler())
	defer srv.Close()

	body := `{"kind":"message","chat_id":10,"message_id":100,"contact":"alice","text":"hi"}`
	resp, err := http.Post(srv.URL, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	select {
	case ev := <-bridge.Events():
		if ev.Kind != EventMessage || ev.ChatID != 10 || ev.Contact != "alice" {
			t.Fatalf("event = %+v", ev)
		}
	default:
		t.Fatal("event not forwarded")
	}
}

func TestWebhookHandlerRejectsUnknownKind(t *testing.T) {
	bridge := NewHTTPBridge("http://unused", nil)
	srv := httptest.NewServer(bridge.WebhookHandler())
	defer srv.Close()

	resp, err := http.Post(srv.URL, "application/json", strings.NewReader(`{"kind":"carrier-pigeon"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHTTPBridgeSendBundle(t *testing.T) {
	var gotPath string
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		gotPath = r.URL.Path
		if body["bundle_path"] != "helper.xdc" {
			t.Fatalf("body = %v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]int64{"message_id": 77})
	}))
	defer provider.Close()

	bridge := NewHTTPBridge(provider.URL, nil)
	msgID, err := bridge.SendBundle(context.Background(), 10, "helper.xdc", "here")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msgID != 77 {
		t.Fatalf("msg id = %d", msgID)
	}
	if gotPath != "/chats/10/messages" {
		t.Fatalf("path = %q", gotPath)
	}
}

func TestHTTPBridgeSurfacesProviderErrors(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer provider.Close()

	bridge := NewHTTPBridge(provider.URL, nil)
	if err := bridge.SendText(context.Background(), 10, "hi"); err == nil {
		t.Fatal("provider errors must surface")
	}
}
