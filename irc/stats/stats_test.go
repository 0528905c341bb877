package stats

import (
	"sync"
	"testing"
)

func TestCountersIncrementAndSnapshot(t *testing.T) {
	c := &Counters{}
	c.IncAccepts()
	c.IncAccepts()
	c.IncKills()
	c.AddBytesSentLocal(512)

	snap := c.Snapshot()
	if snap.Accepts != 2 {
		t.Fatalf("Accepts = %d, want 2", snap.Accepts)
	}
	if snap.Kills != 1 {
		t.Fatalf("Kills = %d, want 1", snap.Kills)
	}
	if snap.BytesSentLocal != 512 {
		t.Fatalf("BytesSentLocal = %d, want 512", snap.BytesSentLocal)
	}
}

func TestCountersConcurrentIncrement(t *testing.T) {
	c := &Counters{}
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.IncAuthSuccesses()
		}()
	}
	wg.Wait()

	if got := c.Snapshot().AuthSuccesses; got != 100 {
		t.Fatalf("AuthSuccesses = %d, want 100", got)
	}
}
