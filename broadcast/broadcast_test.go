package broadcast

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func TestSyncCompletedMessage(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msg := SyncCompleted(at)
	if msg.Type != TypeSyncCompleted {
		t.Fatalf("Type is %s", msg.Type)
	}
	if msg.Timestamp != "2024-05-01T12:00:00Z" {
		t.Fatalf("Timestamp is %s", msg.Timestamp)
	}
}

func TestHubTracksAndBroadcasts(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	server := httptest.NewServer(hub)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.Dial(ctx, wsURL+"?url=/news", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	for start := time.Now(); hub.Count() == 0; {
		if time.Since(start) > time.Second {
			t.Fatal("Page context never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	urls := hub.ContextURLs()
	if len(urls) != 1 {
		t.Fatalf("Context urls are %v", urls)
	}
	for _, url := range urls {
		if url != "/news" {
			t.Fatalf("Context url is %s", url)
		}
	}

	hub.Broadcast(Message{Type: "NOTIFICATION", Payload: map[string]string{"title": "Hi"}})
	var msg Message
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != "NOTIFICATION" {
		t.Fatalf("Message type is %s", msg.Type)
	}
}

func TestBroadcastDropsDeadContexts(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	server := httptest.NewServer(hub)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	for start := time.Now(); hub.Count() == 0; {
		if time.Since(start) > time.Second {
			t.Fatal("Page context never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	conn.Close(websocket.StatusNormalClosure, "")
	for start := time.Now(); hub.Count() != 0; {
		if time.Since(start) > time.Second {
			t.Fatal("Disconnected context never removed")
		}
		time.Sleep(10 * time.Millisecond)
		hub.Broadcast(Message{Type: "PING"})
	}
}
