package assets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ErrSynthesis marks a failed materialization: speech synthesis, transcoding,
// or persisting the result. The failure sticks to the fingerprint until an
// explicit Reset.
var ErrSynthesis = errors.New("synthesis failed")

// ErrEntryNotFound is returned by Reset for an unknown fingerprint.
var ErrEntryNotFound = errors.New("cache entry not found")

// ErrEntryPending is returned by Reset while materialization is in flight.
var ErrEntryPending = errors.New("cache entry is pending")

// Status is the lifecycle state of a cache entry.
type Status string

const (
	StatusPending Status = "pending"
	StatusReady   Status = "ready"
	StatusFailed  Status = "failed"
)

// Synthesizer turns text in a language into raw speech audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, language string) ([]byte, error)
}

// Transcoder converts synthesized audio into the telephony-network codec and
// writes it to path, returning the output size.
type Transcoder interface {
	Transcode(ctx context.Context, audio []byte, path string) (int64, error)
}

// Store persists materialized assets so they survive restarts.
type Store interface {
	Save(ctx context.Context, asset *Asset) error
	Delete(ctx context.Context, fingerprint string) error
	List(ctx context.Context) ([]Asset, error)
	AssetPath(fingerprint string) string
}

// Asset is one materialized speech asset.
type Asset struct {
	Fingerprint string    `json:"fingerprint"`
	Text        string    `json:"text"`
	Language    string    `json:"language"`
	MediaRef    string    `json:"media_ref"`
	FilePath    string    `json:"file_path"`
	FileSize    int64     `json:"file_size"`
	CreatedAt   time.Time `json:"created_at"`
}

// Fingerprint derives the deterministic cache key for a (text, language)
// pair. Distinct texts must never collide, so the key is a truncated SHA-256
// over both inputs with a separator that cannot appear in a language tag.
func Fingerprint(text, language string) string {
	h := sha256.New()
	h.Write([]byte(language))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// MediaRef returns the playback locator for a fingerprint. The format is an
// Asterisk sound: URI resolved against the sounds directory.
func MediaRef(fingerprint string) string {
	return "sound:tts/tts_" + fingerprint
}

// entry is one cache slot. done is closed when the entry leaves pending;
// status, mediaRef and err are written exactly once before the close and are
// read-only afterwards.
type entry struct {
	text     string
	language string

	status    Status
	mediaRef  string
	err       error
	createdAt time.Time
	done      chan struct{}
}

// EntryInfo is a read-only snapshot of a cache entry for the admin API.
type EntryInfo struct {
	Fingerprint string    `json:"fingerprint"`
	Text        string    `json:"text"`
	Language    string    `json:"language"`
	Status      Status    `json:"status"`
	MediaRef    string    `json:"media_ref,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// CacheStats summarizes cache contents and synthesis activity.
type CacheStats struct {
	Ready     int    `json:"ready"`
	Pending   int    `json:"pending"`
	Failed    int    `json:"failed"`
	Syntheses uint64 `json:"syntheses_total"`
	Failures  uint64 `json:"synthesis_failures_total"`
}

// Cache materializes speech assets on demand, at most once per fingerprint
// for the process lifetime. The first demand for a fingerprint becomes the
// owner and runs synthesis, transcoding and persistence; concurrent and later
// demands wait for the owner's outcome and share it, including failures.
// Failed fingerprints are not retried until an explicit Reset, so a
// persistently broken prompt cannot trigger a synthesis storm.
type Cache struct {
	synth   Synthesizer
	trans   Transcoder
	store   Store
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry

	syntheses atomic.Uint64
	failures  atomic.Uint64
}

// NewCache creates an asset cache. timeout bounds one synthesis+transcode
// attempt; expiry is recorded as a synthesis failure.
func NewCache(synth Synthesizer, trans Transcoder, store Store, timeout time.Duration, logger *slog.Logger) *Cache {
	return &Cache{
		synth:   synth,
		trans:   trans,
		store:   store,
		timeout: timeout,
		logger:  logger.With("subsystem", "asset_cache"),
		entries: make(map[string]*entry),
	}
}

// Hydrate loads previously materialized assets from the store so they are
// served without re-synthesis after a restart.
func (c *Cache) Hydrate(ctx context.Context) error {
	stored, err := c.store.List(ctx)
	if err != nil {
		return fmt.Errorf("listing stored assets: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range stored {
		done := make(chan struct{})
		close(done)
		c.entries[a.Fingerprint] = &entry{
			text:      a.Text,
			language:  a.Language,
			status:    StatusReady,
			mediaRef:  a.MediaRef,
			createdAt: a.CreatedAt,
			done:      done,
		}
	}

	c.logger.Info("cache hydrated", "assets", len(stored))
	return nil
}

// EnsureReady returns the media reference for (text, language), materializing
// the asset first if no prior demand has. Blocks until the asset is ready,
// the materialization fails, or ctx is done. All concurrent callers for the
// same fingerprint observe the same outcome from a single provider call.
func (c *Cache) EnsureReady(ctx context.Context, text, language string) (string, error) {
	fp := Fingerprint(text, language)

	c.mu.Lock()
	e, ok := c.entries[fp]
	if !ok {
		e = &entry{
			text:      text,
			language:  language,
			status:    StatusPending,
			createdAt: time.Now(),
			done:      make(chan struct{}),
		}
		c.entries[fp] = e
		c.mu.Unlock()

		// Owner path: this caller is solely responsible for the fingerprint.
		c.materialize(ctx, fp, e)
		return e.mediaRef, e.err
	}
	c.mu.Unlock()

	// Follower path: wait for the owner's outcome.
	select {
	case <-e.done:
		return e.mediaRef, e.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// materialize runs synthesis, transcoding and persistence for a fingerprint,
// then resolves the entry and releases all followers. The work is detached
// from the triggering caller's cancellation: once underway it runs to
// completion under its own deadline, since followers with unrelated calls may
// be waiting on the result.
func (c *Cache) materialize(ctx context.Context, fp string, e *entry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	c.syntheses.Add(1)
	start := time.Now()

	mediaRef, err := c.runPipeline(ctx, fp, e.text, e.language)

	c.mu.Lock()
	if err != nil {
		e.status = StatusFailed
		e.err = fmt.Errorf("%w: %v", ErrSynthesis, err)
		c.failures.Add(1)
		c.logger.Error("materialization failed",
			"fingerprint", fp, "language", e.language, "error", err)
	} else {
		e.status = StatusReady
		e.mediaRef = mediaRef
		c.logger.Info("asset materialized",
			"fingerprint", fp, "language", e.language,
			"duration_ms", time.Since(start).Milliseconds())
	}
	close(e.done)
	c.mu.Unlock()
}

// runPipeline performs the synthesis -> transcode -> persist sequence.
func (c *Cache) runPipeline(ctx context.Context, fp, text, language string) (string, error) {
	audio, err := c.synth.Synthesize(ctx, text, language)
	if err != nil {
		return "", fmt.Errorf("synthesizing: %w", err)
	}

	path := c.store.AssetPath(fp)
	size, err := c.trans.Transcode(ctx, audio, path)
	if err != nil {
		return "", fmt.Errorf("transcoding: %w", err)
	}

	mediaRef := MediaRef(fp)
	asset := &Asset{
		Fingerprint: fp,
		Text:        text,
		Language:    language,
		MediaRef:    mediaRef,
		FilePath:    path,
		FileSize:    size,
		CreatedAt:   time.Now(),
	}
	if err := c.store.Save(ctx, asset); err != nil {
		return "", fmt.Errorf("persisting asset: %w", err)
	}

	return mediaRef, nil
}

// Reset discards a resolved entry so the next demand for its fingerprint
// materializes afresh. This is the only way a failed fingerprint is retried.
// Resetting a pending entry is refused; resetting an unknown fingerprint is
// an error.
func (c *Cache) Reset(ctx context.Context, fingerprint string) error {
	c.mu.Lock()
	e, ok := c.entries[fingerprint]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEntryNotFound, fingerprint)
	}
	if e.status == StatusPending {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEntryPending, fingerprint)
	}
	delete(c.entries, fingerprint)
	c.mu.Unlock()

	if err := c.store.Delete(ctx, fingerprint); err != nil {
		return fmt.Errorf("deleting stored asset: %w", err)
	}

	c.logger.Info("cache entry reset", "fingerprint", fingerprint)
	return nil
}

// Stats returns entry counts by status plus synthesis totals.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Syntheses: c.syntheses.Load(),
		Failures:  c.failures.Load(),
	}
	for _, e := range c.entries {
		switch e.status {
		case StatusReady:
			stats.Ready++
		case StatusPending:
			stats.Pending++
		case StatusFailed:
			stats.Failed++
		}
	}
	return stats
}

// Entries returns a snapshot of all cache entries, ordered by fingerprint.
func (c *Cache) Entries() []EntryInfo {
	c.mu.Lock()
	infos := make([]EntryInfo, 0, len(c.entries))
	for fp, e := range c.entries {
		info := EntryInfo{
			Fingerprint: fp,
			Text:        e.text,
			Language:    e.language,
			Status:      e.status,
			MediaRef:    e.mediaRef,
			CreatedAt:   e.createdAt,
		}
		if e.err != nil {
			info.Error = e.err.Error()
		}
		infos = append(infos, info)
	}
	c.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Fingerprint < infos[j].Fingerprint
	})
	return infos
}
