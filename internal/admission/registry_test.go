package admission

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"
)

func TestAdmitReleaseTracksCount(t *testing.T) {
	r := NewRegistry(0)
	rng := rand.New(rand.NewSource(42))
	ip := "10.0.0.1"

	admits, releases := 0, 0
	for i := 0; i < 1000; i++ {
		if rng.Intn(2) == 0 {
			if !r.TryAdmit(ip) {
				t.Fatalf("TryAdmit refused with cap disabled")
			}
			admits++
		} else {
			r.Release(ip)
			if admits > releases {
				releases++
			}
		}

		want := admits - releases
		if got := r.Count(ip); got != want {
			t.Fatalf("step %d: Count = %d, want %d", i, got, want)
		}
		snap := r.Snapshot()
		if want == 0 && len(snap) != 0 {
			t.Fatalf("step %d: entry left behind with zero count: %+v", i, snap)
		}
		if want > 0 && (len(snap) != 1 || snap[0].Count != want) {
			t.Fatalf("step %d: Snapshot = %+v, want one entry with count %d", i, snap, want)
		}
	}
}

func TestTryAdmitEnforcesCap(t *testing.T) {
	r := NewRegistry(3)
	if got := r.Limit(); got != 3 {
		t.Fatalf("Limit() = %d, want 3", got)
	}
	for i := 0; i < 3; i++ {
		if !r.TryAdmit("192.0.2.7") {
			t.Fatalf("admission %d refused, want allowed", i+1)
		}
	}
	if r.TryAdmit("192.0.2.7") {
		t.Fatal("4th admission allowed, want refused")
	}
	if got := r.Count("192.0.2.7"); got != 3 {
		t.Fatalf("Count after refusal = %d, want 3", got)
	}

	// Other IPs are unaffected.
	if !r.TryAdmit("192.0.2.8") {
		t.Fatal("admission for a different IP refused")
	}

	r.Release("192.0.2.7")
	if !r.TryAdmit("192.0.2.7") {
		t.Fatal("admission after release refused")
	}
}

func TestReleaseUnknownIsNoop(t *testing.T) {
	r := NewRegistry(3)
	r.Release("203.0.113.1")
	if r.Len() != 0 {
		t.Fatalf("Len = %d, want 0", r.Len())
	}
	r.TryAdmit("203.0.113.1")
	r.Release("203.0.113.1")
	r.Release("203.0.113.1")
	if got := r.Count("203.0.113.1"); got != 0 {
		t.Fatalf("Count = %d, want 0", got)
	}
}

func TestSnapshotIsCopyOrderedByIP(t *testing.T) {
	r := NewRegistry(5)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	r.TryAdmit("10.0.0.9")
	r.TryAdmit("10.0.0.1")
	r.TryAdmit("10.0.0.1")

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("len(Snapshot) = %d, want 2", len(snap))
	}
	if snap[0].IP != "10.0.0.1" || snap[0].Count != 2 {
		t.Fatalf("snap[0] = %+v, want 10.0.0.1 with 2", snap[0])
	}
	if !snap[0].LastSeen.Equal(fixed) {
		t.Fatalf("LastSeen = %v, want %v", snap[0].LastSeen, fixed)
	}

	r.Release("10.0.0.9")
	if snap[1].IP != "10.0.0.9" || snap[1].Count != 1 {
		t.Fatalf("snapshot changed after Release: %+v", snap[1])
	}

	entries, err := r.Entries(context.Background())
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(Entries) = %d, want 1", len(entries))
	}
}

func TestConcurrentAdmitRelease(t *testing.T) {
	r := NewRegistry(4)
	var wg sync.WaitGroup
	for g := 0; g < 32; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if r.TryAdmit("198.51.100.1") {
					if c := r.Count("198.51.100.1"); c > 4 {
						t.Errorf("Count = %d exceeds cap", c)
					}
					r.Release("198.51.100.1")
				}
			}
		}()
	}
	wg.Wait()
	if r.Len() != 0 {
		t.Fatalf("Len = %d after balanced admits/releases, want 0", r.Len())
	}
}
