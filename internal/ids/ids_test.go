package ids

import (
	"sync"
	"testing"
	"time"
)

func TestNewIsValidAndOrdered(t *testing.T) {
	prev := New()
	if !Valid(prev) {
		t.Fatalf("invalid id %q", prev)
	}
	for i := 0; i < 100; i++ {
		id := New()
		if !Valid(id) {
			t.Fatalf("invalid id %q", id)
		}
		if id <= prev {
			t.Fatalf("ids not strictly increasing: %q then %q", prev, id)
		}
		prev = id
	}
}

func TestNewIsUniqueUnderConcurrency(t *testing.T) {
	const (
		workers = 8
		perW    = 200
	)
	var (
		mu   sync.Mutex
		seen = make(map[string]bool, workers*perW)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]string, 0, perW)
			for i := 0; i < perW; i++ {
				local = append(local, New())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range local {
				if seen[id] {
					t.Errorf("duplicate id %q", id)
				}
				seen[id] = true
			}
		}()
	}
	wg.Wait()
}

func TestValidRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "not-a-ulid", "0000"} {
		if Valid(s) {
			t.Fatalf("expected %q to be invalid", s)
		}
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	before := time.Now().Add(-time.Second)
	id := New()
	ts, err := Timestamp(id)
	if err != nil {
		t.Fatalf("Timestamp: %v", err)
	}
	if ts.Before(before) || ts.After(time.Now().Add(time.Second)) {
		t.Fatalf("embedded timestamp %v out of range", ts)
	}
	if _, err := Timestamp("garbage"); err == nil {
		t.Fatal("expected error for malformed id")
	}
}
