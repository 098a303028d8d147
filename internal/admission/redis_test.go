package admission

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestSnapshotEncoding(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	data, err := encodeSnapshot("inst", at, nil)
	if err != nil {
		t.Fatalf("encodeSnapshot() error = %v", err)
	}
	p, err := decodeSnapshot(data)
	if err != nil {
		t.Fatalf("decodeSnapshot() error = %v", err)
	}
	if p.Instance != "inst" || !p.UpdatedAt.Equal(at) {
		t.Fatalf("payload = %+v", p)
	}
	if p.Entries == nil || len(p.Entries) != 0 {
		t.Fatalf("Entries = %#v, want empty non-nil slice", p.Entries)
	}

	if _, err := decodeSnapshot([]byte("not json")); err == nil {
		t.Fatal("decodeSnapshot(garbage) error = nil, want error")
	}
}

func TestRedisMirrorRoundTrip(t *testing.T) {
	addr := os.Getenv("WSPROXY_TEST_REDIS")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	key := "wsproxy:test:" + time.Now().Format("150405.000000")
	m, err := NewRedisMirror(addr, "", 0, key)
	if err != nil {
		t.Skipf("Skipping Redis test: %v", err)
	}
	defer m.Close()
	if m.Key() != key {
		t.Fatalf("Key() = %q, want %q", m.Key(), key)
	}

	ctx := context.Background()
	entries, err := m.Entries(ctx)
	if err != nil {
		t.Fatalf("Entries() on empty key error = %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("Entries() = %v, want empty", entries)
	}

	reg := NewRegistry(3)
	reg.TryAdmit("10.9.9.9")
	if err := m.Publish(ctx, reg.Snapshot()); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	entries, err = m.Entries(ctx)
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(entries) != 1 || entries[0].IP != "10.9.9.9" || entries[0].Count != 1 {
		t.Fatalf("Entries() = %+v", entries)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		m.Run(runCtx, reg, 10*time.Millisecond, nil)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	<-done

	entries, err = m.Entries(ctx)
	if err != nil {
		t.Fatalf("Entries() after Run error = %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("Entries() after Run = %+v, want key removed", entries)
	}
}
