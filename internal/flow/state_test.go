package flow

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestStateTableLifecycle(t *testing.T) {
	table := NewStateTable()

	if _, err := table.CurrentNodeID("ch1"); !errors.Is(err, ErrNoActiveCall) {
		t.Errorf("CurrentNodeID before Start: error = %v, want ErrNoActiveCall", err)
	}

	table.Start("ch1", "start")
	id, err := table.CurrentNodeID("ch1")
	if err != nil {
		t.Fatalf("CurrentNodeID error: %v", err)
	}
	if id != "start" {
		t.Errorf("CurrentNodeID = %q, want start", id)
	}

	if err := table.Advance("ch1", "english"); err != nil {
		t.Fatalf("Advance error: %v", err)
	}
	id, _ = table.CurrentNodeID("ch1")
	if id != "english" {
		t.Errorf("CurrentNodeID after Advance = %q, want english", id)
	}

	table.End("ch1")
	if _, err := table.CurrentNodeID("ch1"); !errors.Is(err, ErrNoActiveCall) {
		t.Errorf("CurrentNodeID after End: error = %v, want ErrNoActiveCall", err)
	}
	if table.Count() != 0 {
		t.Errorf("Count after End = %d, want 0", table.Count())
	}
}

func TestAdvanceUnknownChannelIsNoOp(t *testing.T) {
	table := NewStateTable()

	if err := table.Advance("ghost", "anywhere"); !errors.Is(err, ErrNoActiveCall) {
		t.Errorf("Advance on unknown channel: error = %v, want ErrNoActiveCall", err)
	}
	// No phantom entry may appear.
	if table.Count() != 0 {
		t.Errorf("Count = %d, want 0", table.Count())
	}
}

func TestStartOverwritesStaleEntry(t *testing.T) {
	table := NewStateTable()
	table.Start("ch1", "start")
	table.Advance("ch1", "english")

	// A fresh call on a reused channel id starts over at the root.
	table.Start("ch1", "start")
	id, _ := table.CurrentNodeID("ch1")
	if id != "start" {
		t.Errorf("CurrentNodeID = %q, want start", id)
	}
}

func TestEndUnknownChannelIsNoOp(t *testing.T) {
	table := NewStateTable()
	table.End("never-started")
	if table.Count() != 0 {
		t.Errorf("Count = %d, want 0", table.Count())
	}
}

func TestChannelIsolation(t *testing.T) {
	table := NewStateTable()
	table.Start("a", "start")
	table.Start("b", "start")

	table.Advance("a", "hindi")
	if id, _ := table.CurrentNodeID("b"); id != "start" {
		t.Errorf("channel b moved to %q after channel a advanced", id)
	}

	table.End("a")
	if _, err := table.CurrentNodeID("b"); err != nil {
		t.Errorf("channel b lost state after channel a ended: %v", err)
	}
}

func TestStateTableConcurrentChannels(t *testing.T) {
	table := NewStateTable()

	const channels = 50
	var wg sync.WaitGroup
	for i := 0; i < channels; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ch := fmt.Sprintf("ch%d", i)
			table.Start(ch, "start")
			for j := 0; j < 100; j++ {
				if err := table.Advance(ch, fmt.Sprintf("node%d", j)); err != nil {
					t.Errorf("Advance(%s): %v", ch, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	if table.Count() != channels {
		t.Errorf("Count = %d, want %d", table.Count(), channels)
	}
	snap := table.Snapshot()
	for ch, node := range snap {
		if node != "node99" {
			t.Errorf("channel %s at %q, want node99", ch, node)
		}
	}
}
