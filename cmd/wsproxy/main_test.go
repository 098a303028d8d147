package main

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"wsproxy/internal/config"
)

func TestExecuteExitCodes(t *testing.T) {
	t.Setenv("WSPROXY_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"help", []string{"--help"}, 0},
		{"unknown flag", []string{"--nope"}, 2},
		{"bad port value", []string{"-p", "abc"}, 2},
		{"port out of range", []string{"-p", "70000"}, 2},
		{"positional argument", []string{"extra"}, 2},
		{"missing config file", []string{"-c", filepath.Join(t.TempDir(), "missing.yaml")}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if got := execute(tt.args, &stdout, &stderr); got != tt.want {
				t.Fatalf("execute(%v) = %d, want %d; stderr: %s", tt.args, got, tt.want, stderr.String())
			}
			if tt.want == 2 && !strings.Contains(stderr.String(), "Usage:") {
				t.Errorf("usage not printed for %v: %s", tt.args, stderr.String())
			}
		})
	}
}

func TestFlagsOverrideConfig(t *testing.T) {
	t.Setenv("WSPROXY_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cmd := newRootCommand()
	if err := cmd.ParseFlags([]string{"-b", "127.0.0.1", "-p", "9000", "--log-file", "-", "--debug"}); err != nil {
		t.Fatal(err)
	}
	var f cliFlags
	f.bind, _ = cmd.Flags().GetString("bind")
	f.port, _ = cmd.Flags().GetInt("port")
	f.logFile, _ = cmd.Flags().GetString("log-file")
	f.debug, _ = cmd.Flags().GetBool("debug")

	cfg, err := loadConfig(cmd, f)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Bind != "127.0.0.1" || cfg.Port != 9000 {
		t.Errorf("listen = %s:%d, want 127.0.0.1:9000", cfg.Bind, cfg.Port)
	}
	if cfg.LogFile != "" {
		t.Errorf("LogFile = %q, want stderr", cfg.LogFile)
	}
	if !cfg.Debug {
		t.Error("Debug = false, want true")
	}
	if cfg.MaxPerIP != 3 {
		t.Errorf("MaxPerIP = %d, want default 3", cfg.MaxPerIP)
	}
}

func TestServerOptions(t *testing.T) {
	cfg := config.Default()
	cfg.PassHash = "$2a$10$abcdefghijklmnopqrstuuJ7b5mNc3n1Rk7kqz2dXr2yG9sQxk4bW"
	cfg.TLS.Enable = true
	cfg.ConnectRatePerIP = 2

	opts := serverOptions(cfg)
	if opts.Port != 8880 || opts.TLSPort != 443 {
		t.Errorf("ports = %d/%d, want 8880/443", opts.Port, opts.TLSPort)
	}
	if !opts.Policy.Enabled() || string(opts.Policy.PassphraseHash) != cfg.PassHash {
		t.Errorf("policy = %+v, want hash from config", opts.Policy)
	}
	if opts.Gate == nil {
		t.Error("Gate = nil with connect_rate_per_ip set")
	}
	if opts.PollInterval != 3*time.Second || opts.IdleThreshold != 60 {
		t.Errorf("relay = %v x %d, want 3s x 60", opts.PollInterval, opts.IdleThreshold)
	}

	cfg.TLS.Enable = false
	if got := serverOptions(cfg).TLSPort; got != 0 {
		t.Errorf("TLSPort = %d with TLS disabled, want 0", got)
	}
}

func TestPrintBanner(t *testing.T) {
	cfg := config.Default()
	var buf bytes.Buffer
	printBanner(&buf, cfg)
	if !strings.Contains(buf.String(), "Listening on 0.0.0.0:8880") {
		t.Fatalf("banner = %q", buf.String())
	}
}

func TestHashPassphraseCommand(t *testing.T) {
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetArgs([]string{"hash-passphrase"})
	cmd.SetIn(strings.NewReader("s3cret\ns3cret\n"))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}

	hash := strings.TrimSpace(stdout.String())
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")); err != nil {
		t.Fatalf("printed hash %q does not match: %v", hash, err)
	}

	cfg := config.Default()
	cfg.PassHash = hash
	if err := cfg.Validate(); err != nil {
		t.Fatalf("hash rejected by config: %v", err)
	}
}

func TestPromptPassphraseMismatch(t *testing.T) {
	_, err := promptPassphrase(strings.NewReader("one\ntwo\n"), io.Discard)
	if err == nil {
		t.Fatal("mismatched confirmation accepted")
	}
}
