package ari

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxflow/voxflow/internal/flow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name   string
		json   string
		want   flow.Event
		wantOK bool
	}{
		{
			name:   "stasis start",
			json:   `{"type":"StasisStart","channel":{"id":"ch1"}}`,
			want:   flow.Event{Type: flow.EventCallStarted, ChannelID: "ch1"},
			wantOK: true,
		},
		{
			name:   "dtmf",
			json:   `{"type":"ChannelDtmfReceived","digit":"2","channel":{"id":"ch1"}}`,
			want:   flow.Event{Type: flow.EventDigitReceived, ChannelID: "ch1", Digit: "2"},
			wantOK: true,
		},
		{
			name:   "stasis end",
			json:   `{"type":"StasisEnd","channel":{"id":"ch1"}}`,
			want:   flow.Event{Type: flow.EventCallEnded, ChannelID: "ch1"},
			wantOK: true,
		},
		{
			name:   "unrelated event",
			json:   `{"type":"ChannelVarset","channel":{"id":"ch1"}}`,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := decodeEvent([]byte(tt.json))
			if err != nil {
				t.Fatalf("decodeEvent error: %v", err)
			}
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("event = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecodeEventMalformed(t *testing.T) {
	if _, _, err := decodeEvent([]byte("{bad json")); err == nil {
		t.Error("decodeEvent = nil error for malformed JSON")
	}
}

func TestPlayIssuesCommand(t *testing.T) {
	var gotPath, gotMedia, gotUser, gotPass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		gotPath = r.URL.Path
		gotMedia = r.URL.Query().Get("media")
		gotUser, gotPass, _ = r.BasicAuth()
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/ari", "user", "pass", "voxflow", testLogger())
	if err := client.Play(context.Background(), "ch1", "sound:tts/tts_abc"); err != nil {
		t.Fatalf("Play error: %v", err)
	}

	if !strings.HasPrefix(gotPath, "/ari/channels/ch1/play/") {
		t.Errorf("path = %q, want /ari/channels/ch1/play/<id>", gotPath)
	}
	if playbackID := strings.TrimPrefix(gotPath, "/ari/channels/ch1/play/"); playbackID == "" {
		t.Error("playback id missing from path")
	}
	if gotMedia != "sound:tts/tts_abc" {
		t.Errorf("media = %q, want sound:tts/tts_abc", gotMedia)
	}
	if gotUser != "user" || gotPass != "pass" {
		t.Errorf("basic auth = %q/%q, want user/pass", gotUser, gotPass)
	}
}

func TestPlayFailureIsPlaybackError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Channel not found", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/ari", "user", "pass", "voxflow", testLogger())
	err := client.Play(context.Background(), "gone", "sound:tts/tts_abc")
	if !errors.Is(err, ErrPlayback) {
		t.Fatalf("Play error = %v, want ErrPlayback", err)
	}
}

func TestPlayUnreachableServer(t *testing.T) {
	client := NewClient("http://127.0.0.1:1/ari", "user", "pass", "voxflow", testLogger())
	err := client.Play(context.Background(), "ch1", "sound:tts/tts_abc")
	if !errors.Is(err, ErrPlayback) {
		t.Fatalf("Play error = %v, want ErrPlayback", err)
	}
}

func TestEventsURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{
			base: "http://localhost:8088/ari",
			want: "ws://localhost:8088/ari/events?api_key=u%3Ap&app=myapp",
		},
		{
			base: "https://pbx.example.com/ari",
			want: "wss://pbx.example.com/ari/events?api_key=u%3Ap&app=myapp",
		},
	}

	for _, tt := range tests {
		client := NewClient(tt.base, "u", "p", "myapp", testLogger())
		got, err := client.eventsURL()
		if err != nil {
			t.Fatalf("eventsURL(%q) error: %v", tt.base, err)
		}
		if got != tt.want {
			t.Errorf("eventsURL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestEventsURLRejectsBadScheme(t *testing.T) {
	client := NewClient("ftp://example.com/ari", "u", "p", "app", testLogger())
	if _, err := client.eventsURL(); err == nil {
		t.Error("eventsURL = nil error for ftp scheme")
	}
}

func TestListenDeliversEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("app"); got != "voxflow" {
			t.Errorf("app = %q, want voxflow", got)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		msgs := []string{
			`{"type":"StasisStart","channel":{"id":"ch1"}}`,
			`{"type":"ChannelVarset","channel":{"id":"ch1"}}`,
			`{"type":"ChannelDtmfReceived","digit":"1","channel":{"id":"ch1"}}`,
		}
		for _, m := range msgs {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		// Hold the connection open until the client goes away.
		conn.ReadMessage()
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/ari", "u", "p", "voxflow", testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan flow.Event, 8)
	listenDone := make(chan error, 1)
	go func() {
		listenDone <- client.Listen(ctx, func(ev flow.Event) { events <- ev })
	}()

	got := make(map[flow.EventType]flow.Event)
	timeout := time.After(5 * time.Second)
	for len(got) < 2 {
		select {
		case ev := <-events:
			got[ev.Type] = ev
		case <-timeout:
			t.Fatalf("timed out waiting for events, have %v", got)
		}
	}

	if ev := got[flow.EventCallStarted]; ev.ChannelID != "ch1" {
		t.Errorf("call-started = %+v", ev)
	}
	if ev := got[flow.EventDigitReceived]; ev.Digit != "1" {
		t.Errorf("digit-received = %+v", ev)
	}

	cancel()
	select {
	case err := <-listenDone:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Listen returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Listen did not stop after cancel")
	}
}
