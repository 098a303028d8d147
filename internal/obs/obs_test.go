package obs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupAppendsWithSeverity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxy.log")
	if err := os.WriteFile(path, []byte("previous line\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	closer, err := Setup(path, false)
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	Infof("server started on %s", "0.0.0.0:8880")
	Warnf("[%s] Too many active connections!", "10.0.0.1")
	Debugf("hidden")
	closer.Close()
	SetOutput(os.Stderr)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	out := string(data)
	if !strings.HasPrefix(out, "previous line\n") {
		t.Fatalf("log file was truncated: %q", out)
	}
	if !strings.Contains(out, "[INFO] server started on 0.0.0.0:8880") {
		t.Errorf("missing info record in %q", out)
	}
	if !strings.Contains(out, "[WARN] [10.0.0.1] Too many active connections!") {
		t.Errorf("missing warn record in %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("debug record written while debug disabled: %q", out)
	}
}

func TestDebugEnabled(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	EnableDebug(true)
	defer EnableDebug(false)
	Debugf("state %s", "Relaying")
	if !strings.Contains(buf.String(), "[DEBUG] state Relaying") {
		t.Fatalf("debug record missing: %q", buf.String())
	}
}

func TestStatusServerEndpoints(t *testing.T) {
	srv := NewStatusServer("127.0.0.1:0", func(ctx context.Context) (any, error) {
		return []map[string]any{{"ip": "10.0.0.1", "count": 2}}, nil
	})
	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/healthz status = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/api/registry")
	if err != nil {
		t.Fatalf("GET /api/registry error = %v", err)
	}
	var rows []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	resp.Body.Close()
	if len(rows) != 1 || rows[0]["ip"] != "10.0.0.1" {
		t.Fatalf("rows = %v", rows)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", resp.StatusCode)
	}
}

func TestStatusServerStateError(t *testing.T) {
	srv := NewStatusServer("127.0.0.1:0", func(ctx context.Context) (any, error) {
		return nil, errors.New("redis down")
	})
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/registry", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
