package ari

import (
	"encoding/json"
	"fmt"

	"github.com/voxflow/voxflow/internal/flow"
)

// ARI event types the engine cares about. Everything else on the event
// socket is ignorable.
const (
	eventStasisStart  = "StasisStart"
	eventStasisEnd    = "StasisEnd"
	eventDtmfReceived = "ChannelDtmfReceived"
)

// rawEvent is the subset of an ARI event message we decode.
type rawEvent struct {
	Type    string `json:"type"`
	Digit   string `json:"digit,omitempty"`
	Channel struct {
		ID string `json:"id"`
	} `json:"channel"`
}

// decodeEvent parses one ARI websocket message into an engine event.
// ok is false for event types the engine does not consume.
func decodeEvent(data []byte) (flow.Event, bool, error) {
	var raw rawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return flow.Event{}, false, fmt.Errorf("decoding ari event: %w", err)
	}

	switch raw.Type {
	case eventStasisStart:
		return flow.Event{Type: flow.EventCallStarted, ChannelID: raw.Channel.ID}, true, nil
	case eventDtmfReceived:
		return flow.Event{
			Type:      flow.EventDigitReceived,
			ChannelID: raw.Channel.ID,
			Digit:     raw.Digit,
		}, true, nil
	case eventStasisEnd:
		return flow.Event{Type: flow.EventCallEnded, ChannelID: raw.Channel.ID}, true, nil
	default:
		return flow.Event{}, false, nil
	}
}
