package flow

import (
	"errors"
	"sync"
)

// ErrNoActiveCall is returned when an operation references a channel with no
// tracked call. It signals an ignorable condition, not a failure.
var ErrNoActiveCall = errors.New("no active call for channel")

// StateTable tracks the current flow position of every active call. It is the
// only mutable per-call state in the system: channelId -> current node id.
// All operations are safe for concurrent use; each is a single fast map
// operation under the table lock, so operations on one channel never wait on
// slow work for another.
type StateTable struct {
	mu    sync.RWMutex
	calls map[string]string
}

// NewStateTable creates an empty call state table.
func NewStateTable() *StateTable {
	return &StateTable{calls: make(map[string]string)}
}

// Start positions the channel at the given root node, overwriting any stale
// entry left over for the same channel id.
func (t *StateTable) Start(channelID, rootID string) {
	t.mu.Lock()
	t.calls[channelID] = rootID
	t.mu.Unlock()
}

// CurrentNodeID returns the node id the channel is parked at, or
// ErrNoActiveCall if the channel has no tracked call.
func (t *StateTable) CurrentNodeID(channelID string) (string, error) {
	t.mu.RLock()
	id, ok := t.calls[channelID]
	t.mu.RUnlock()
	if !ok {
		return "", ErrNoActiveCall
	}
	return id, nil
}

// Advance moves an existing call to the given node. An event for an unknown
// or ended channel must not create a phantom entry, so Advance on a channel
// with no tracked call is a no-op returning ErrNoActiveCall.
func (t *StateTable) Advance(channelID, nodeID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.calls[channelID]; !ok {
		return ErrNoActiveCall
	}
	t.calls[channelID] = nodeID
	return nil
}

// End removes the channel's entry. Ending an unknown channel is a no-op.
func (t *StateTable) End(channelID string) {
	t.mu.Lock()
	delete(t.calls, channelID)
	t.mu.Unlock()
}

// Count returns the number of active calls.
func (t *StateTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.calls)
}

// Snapshot returns a copy of the channel -> node mapping.
func (t *StateTable) Snapshot() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]string, len(t.calls))
	for ch, node := range t.calls {
		out[ch] = node
	}
	return out
}
