package monitor

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"wsproxy/internal/admission"
)

func TestPrint(t *testing.T) {
	seen := time.Date(2024, 5, 1, 13, 4, 5, 0, time.Local)
	var buf bytes.Buffer
	err := Print(&buf, []admission.Entry{
		{IP: "10.0.0.1", Count: 2, LastSeen: seen},
		{IP: "192.168.100.200", Count: 1, LastSeen: seen},
	})
	if err != nil {
		t.Fatal(err)
	}

	want := "\n📊 Active IP Connections:\n" +
		"  10.0.0.1        | 2 conn(s) | last seen: 2024-05-01 13:04:05\n" +
		"  192.168.100.200 | 1 conn(s) | last seen: 2024-05-01 13:04:05\n" +
		strings.Repeat("-", 40) + "\n"
	if got := buf.String(); got != want {
		t.Fatalf("Print output:\n%q\nwant:\n%q", got, want)
	}
}

func TestPrintEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := Print(&buf, nil); err != nil {
		t.Fatal(err)
	}
	if got, want := buf.String(), "\n📊 Active IP Connections:\n"+strings.Repeat("-", 40)+"\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

type flakySource struct {
	mu    sync.Mutex
	calls int
}

func (f *flakySource) Entries(context.Context) ([]admission.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls == 1 {
		return nil, errors.New("redis down")
	}
	return []admission.Entry{{IP: "10.0.0.9", Count: 1, LastSeen: time.Now()}}, nil
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestRunKeepsGoingAfterSnapshotError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() { done <- Run(ctx, &flakySource{}, 5*time.Millisecond, out) }()

	deadline := time.Now().Add(3 * time.Second)
	for !strings.Contains(out.String(), "10.0.0.9") {
		if time.Now().After(deadline) {
			t.Fatalf("no table printed, output so far: %q", out.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if !strings.Contains(out.String(), "snapshot unavailable: redis down") {
		t.Fatalf("snapshot error not reported: %q", out.String())
	}
}

func TestRunWithRegistry(t *testing.T) {
	reg := admission.NewRegistry(3)
	reg.TryAdmit("203.0.113.1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var buf bytes.Buffer
	if err := Run(ctx, reg, time.Hour, &buf); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "203.0.113.1     | 1 conn(s)") {
		t.Fatalf("registry entry missing: %q", buf.String())
	}
}
