// Package tts talks to the external speech pipeline: the remote synthesis
// provider and the local transcoder that produces telephony-ready audio.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// ErrProvider is returned when the synthesis provider rejects or fails a
// request.
var ErrProvider = errors.New("synthesis provider error")

// maxAudioSize caps a single synthesized response (prompts are short).
const maxAudioSize = 16 << 20 // 16 MiB

// synthesizeRequest is the JSON body sent to the provider.
type synthesizeRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Client synthesizes speech via an HTTP provider. Requests are paced by a
// rate limiter so a burst of distinct prompts cannot trip provider quotas.
type Client struct {
	url     string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates a synthesis client for the given provider endpoint.
func NewClient(url string, timeout time.Duration, rps float64, burst int, logger *slog.Logger) *Client {
	return &Client{
		url:     url,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger.With("subsystem", "tts_client"),
	}
}

// Synthesize requests speech audio for text in the given language. The
// response body is the raw audio (WAV) to hand to the transcoder.
func (c *Client) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	body, err := json.Marshal(synthesizeRequest{Text: text, Language: language})
	if err != nil {
		return nil, fmt.Errorf("encoding synthesis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling synthesis provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Include a short excerpt of the body for diagnosis.
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("%w: status %d: %s", ErrProvider, resp.StatusCode, bytes.TrimSpace(excerpt))
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioSize))
	if err != nil {
		return nil, fmt.Errorf("reading synthesized audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("%w: empty audio response", ErrProvider)
	}

	c.logger.Debug("synthesized prompt",
		"language", language,
		"bytes", len(audio),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return audio, nil
}
