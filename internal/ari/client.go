// Package ari connects voxflow to the Asterisk REST Interface: the long-lived
// websocket that delivers call events and the REST endpoint that plays media
// on a channel.
package ari

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voxflow/voxflow/internal/flow"
)

// ErrPlayback is returned when the call-control server rejects or fails a
// playback command.
var ErrPlayback = errors.New("playback command failed")

// Reconnect backoff bounds for the event socket.
const (
	reconnectMin = time.Second
	reconnectMax = 30 * time.Second
)

// Client talks to one Asterisk ARI endpoint.
type Client struct {
	baseURL  string // e.g. "http://localhost:8088/ari"
	username string
	password string
	app      string
	http     *http.Client
	logger   *slog.Logger
}

// NewClient creates an ARI client for the given Stasis application.
func NewClient(baseURL, username, password, app string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		app:      app,
		http:     &http.Client{Timeout: 10 * time.Second},
		logger:   logger.With("subsystem", "ari"),
	}
}

// Play instructs the call-control server to play mediaRef on the channel.
// The playback ID is minted client-side so the command is addressable later.
func (c *Client) Play(ctx context.Context, channelID, mediaRef string) error {
	playbackID := uuid.NewString()
	playURL := fmt.Sprintf("%s/channels/%s/play/%s?media=%s",
		c.baseURL, url.PathEscape(channelID), playbackID, url.QueryEscape(mediaRef))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, playURL, nil)
	if err != nil {
		return fmt.Errorf("building play request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPlayback, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%w: status %d: %s", ErrPlayback, resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}

	c.logger.Debug("playback requested",
		"channel_id", channelID, "media_ref", mediaRef, "playback_id", playbackID)
	return nil
}

// Listen connects to the ARI event websocket and dispatches each decoded
// event to handle on its own goroutine, reconnecting with backoff until ctx
// is done. Events for one channel may therefore be handled concurrently with
// events for others; ordering per channel is the engine's concern.
func (c *Client) Listen(ctx context.Context, handle func(flow.Event)) error {
	wsURL, err := c.eventsURL()
	if err != nil {
		return err
	}

	backoff := reconnectMin
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.readEvents(ctx, wsURL, handle, func() { backoff = reconnectMin })
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.logger.Warn("event socket disconnected, reconnecting",
			"error", err, "backoff", backoff)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = min(backoff*2, reconnectMax)
	}
}

// readEvents runs one websocket session until it fails or ctx is done.
// onConnected is called after a successful dial so the caller can reset its
// backoff.
func (c *Client) readEvents(ctx context.Context, wsURL string, handle func(flow.Event), onConnected func()) error {
	dialer := websocket.Dialer{Proxy: http.ProxyFromEnvironment}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dialing event socket: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dialing event socket: %w", err)
	}
	defer conn.Close()

	c.logger.Info("connected to ari event socket", "app", c.app)
	onConnected()

	// Close the connection when ctx is done to unblock ReadMessage.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("reading event socket: %w", err)
		}

		ev, ok, err := decodeEvent(data)
		if err != nil {
			c.logger.Warn("dropping malformed event", "error", err)
			continue
		}
		if !ok {
			continue
		}

		go handle(ev)
	}
}

// eventsURL derives the websocket events URL from the REST base URL.
func (c *Client) eventsURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing ari url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported ari url scheme %q", u.Scheme)
	}

	u.Path = strings.TrimRight(u.Path, "/") + "/events"
	q := u.Query()
	q.Set("app", c.app)
	q.Set("api_key", c.username+":"+c.password)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
