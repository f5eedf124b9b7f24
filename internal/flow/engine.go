package flow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// invalidInputPrompt is spoken when a digit has no matching transition.
// The call stays parked at its current node so the caller can retry.
const invalidInputPrompt = "Invalid input, please try again."

// EventType identifies a telephony event consumed by the engine.
type EventType string

const (
	// EventCallStarted is delivered when a new call enters the application.
	EventCallStarted EventType = "call-started"
	// EventDigitReceived is delivered for each keypad press.
	EventDigitReceived EventType = "digit-received"
	// EventCallEnded is delivered when a channel leaves the application.
	EventCallEnded EventType = "call-ended"
)

// Event is one decoded telephony event. Digit is set only for digit events.
type Event struct {
	Type      EventType
	ChannelID string
	Digit     string
}

// AssetProvider materializes a playable audio asset for a prompt, returning
// the media reference to hand to the playback interface. Implementations
// must be safe for concurrent use.
type AssetProvider interface {
	EnsureReady(ctx context.Context, text, language string) (string, error)
}

// Player instructs the call-control server to play a media reference on a
// channel.
type Player interface {
	Play(ctx context.Context, channelID, mediaRef string) error
}

// Stats is a snapshot of engine activity counters.
type Stats struct {
	EventsHandled    uint64
	Playbacks        uint64
	PlaybackFailures uint64
	SynthFailures    uint64
	InvalidDigits    uint64
}

// Engine maps inbound telephony events to flow-graph transitions. Events may
// be delivered concurrently, including multiple near-simultaneous events for
// the same channel; the engine serializes handling per channel (a rapid
// double key-press is processed as two ordered transitions) while distinct
// channels proceed fully in parallel.
type Engine struct {
	graph  *Graph
	states *StateTable
	assets AssetProvider
	player Player
	logger *slog.Logger

	lockMu   sync.Mutex
	chanLock map[string]*channelLock

	eventsHandled    atomic.Uint64
	playbacks        atomic.Uint64
	playbackFailures atomic.Uint64
	synthFailures    atomic.Uint64
	invalidDigits    atomic.Uint64
}

// channelLock serializes event handling for one channel. Refcounted so
// entries do not accumulate for ended calls.
type channelLock struct {
	mu   sync.Mutex
	refs int
}

// NewEngine creates a call flow engine.
func NewEngine(graph *Graph, states *StateTable, assets AssetProvider, player Player, logger *slog.Logger) *Engine {
	return &Engine{
		graph:    graph,
		states:   states,
		assets:   assets,
		player:   player,
		logger:   logger.With("subsystem", "flow_engine"),
		chanLock: make(map[string]*channelLock),
	}
}

// HandleEvent processes one telephony event. Unrecognized event types are
// ignored. Safe for concurrent use.
func (e *Engine) HandleEvent(ctx context.Context, ev Event) {
	e.eventsHandled.Add(1)

	switch ev.Type {
	case EventCallStarted:
		e.handleCallStart(ctx, ev.ChannelID)
	case EventDigitReceived:
		e.handleDigit(ctx, ev.ChannelID, ev.Digit)
	case EventCallEnded:
		e.EndCall(ev.ChannelID)
	default:
		e.logger.Debug("ignoring event", "type", ev.Type, "channel_id", ev.ChannelID)
	}
}

// handleCallStart positions a new call at the flow root and plays its prompt.
func (e *Engine) handleCallStart(ctx context.Context, channelID string) {
	unlock := e.lockChannel(channelID)
	defer unlock()

	root := e.graph.Root()
	e.states.Start(channelID, root.ID)

	e.logger.Info("call started", "channel_id", channelID, "node_id", root.ID)
	e.speak(ctx, channelID, root.Prompt, root.PromptLanguage())
}

// handleDigit advances the call along the matching transition, or replays the
// invalid-input prompt without moving if the digit has no branch.
func (e *Engine) handleDigit(ctx context.Context, channelID, digit string) {
	unlock := e.lockChannel(channelID)
	defer unlock()

	currentID, err := e.states.CurrentNodeID(channelID)
	if errors.Is(err, ErrNoActiveCall) {
		// A digit for an unknown or ended call is not an error condition.
		e.logger.Debug("digit for inactive channel", "channel_id", channelID, "digit", digit)
		return
	}

	node, err := e.graph.Get(currentID)
	if err != nil {
		// The graph is validated at load time, so a tracked call can only
		// reference a known node.
		e.logger.Error("call state references unknown node",
			"channel_id", channelID, "node_id", currentID, "error", err)
		return
	}

	targetID, ok := node.Transitions[digit]
	if !ok {
		e.invalidDigits.Add(1)
		e.logger.Info("invalid digit, replaying prompt",
			"channel_id", channelID, "node_id", node.ID, "digit", digit)
		e.speak(ctx, channelID, invalidInputPrompt, node.PromptLanguage())
		return
	}

	if err := e.states.Advance(channelID, targetID); err != nil {
		e.logger.Debug("advance on inactive channel", "channel_id", channelID)
		return
	}

	target, err := e.graph.Get(targetID)
	if err != nil {
		e.logger.Error("transition target missing", "node_id", targetID, "error", err)
		return
	}

	e.logger.Info("call advanced",
		"channel_id", channelID, "from", node.ID, "to", target.ID, "digit", digit)
	e.speak(ctx, channelID, target.Prompt, target.PromptLanguage())
}

// EndCall removes the channel's call state. It is the teardown hook for any
// external "channel ended" notification.
func (e *Engine) EndCall(channelID string) {
	unlock := e.lockChannel(channelID)
	defer unlock()

	e.states.End(channelID)
	e.logger.Info("call ended", "channel_id", channelID)
}

// speak materializes the prompt and issues the playback command. Synthesis
// failure means silence for the caller; playback failure leaves call state
// untouched so a subsequent digit still makes sense. Neither is retried.
func (e *Engine) speak(ctx context.Context, channelID, text, language string) {
	mediaRef, err := e.assets.EnsureReady(ctx, text, language)
	if err != nil {
		e.synthFailures.Add(1)
		e.logger.Error("failed to materialize prompt",
			"channel_id", channelID, "language", language, "error", err)
		return
	}

	if err := e.player.Play(ctx, channelID, mediaRef); err != nil {
		e.playbackFailures.Add(1)
		e.logger.Error("playback command failed",
			"channel_id", channelID, "media_ref", mediaRef, "error", err)
		return
	}

	e.playbacks.Add(1)
	e.logger.Debug("playback issued", "channel_id", channelID, "media_ref", mediaRef)
}

// lockChannel acquires the per-channel lock, creating it on first use. The
// returned func releases the lock and drops the entry once no handler holds
// or awaits it.
func (e *Engine) lockChannel(channelID string) func() {
	e.lockMu.Lock()
	cl, ok := e.chanLock[channelID]
	if !ok {
		cl = &channelLock{}
		e.chanLock[channelID] = cl
	}
	cl.refs++
	e.lockMu.Unlock()

	cl.mu.Lock()

	return func() {
		cl.mu.Unlock()

		e.lockMu.Lock()
		cl.refs--
		if cl.refs == 0 {
			delete(e.chanLock, channelID)
		}
		e.lockMu.Unlock()
	}
}

// GetActiveCallCount returns the number of tracked calls, for metrics.
func (e *Engine) GetActiveCallCount() int {
	return e.states.Count()
}

// GetStats returns a snapshot of the engine's activity counters.
func (e *Engine) GetStats() Stats {
	return Stats{
		EventsHandled:    e.eventsHandled.Load(),
		Playbacks:        e.playbacks.Load(),
		PlaybackFailures: e.playbackFailures.Load(),
		SynthFailures:    e.synthFailures.Load(),
		InvalidDigits:    e.invalidDigits.Load(),
	}
}
