// Package main is the entry point for wsproxy.
//
// wsproxy accepts connections that open with a fake WebSocket upgrade, reads
// the target from the X-Real-Host header and relays raw bytes to it.
//
// Usage:
//
//	wsproxy                      # Listen on 0.0.0.0:8880
//	wsproxy -b 127.0.0.1 -p 80   # Listen elsewhere
//	wsproxy --monitor            # Print active IP connections every 10s
//	wsproxy -c /etc/wsproxy.yaml # Use a config file
//	wsproxy hash-passphrase      # Hash a passphrase for passphrase_bcrypt
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"wsproxy/internal/admission"
	"wsproxy/internal/config"
	"wsproxy/internal/monitor"
	"wsproxy/internal/obs"
	"wsproxy/internal/tunnel"
)

// usageError marks errors caused by bad command-line input. They exit 2.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

type cliFlags struct {
	bind       string
	port       int
	monitor    bool
	configPath string
	logFile    string
	metrics    string
	debug      bool
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the root command and maps its outcome to an exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	if err == nil {
		return 0
	}
	fmt.Fprintln(stderr, "Error:", err)
	var ue usageError
	if errors.As(err, &ue) {
		fmt.Fprint(stderr, cmd.UsageString())
		return 2
	}
	return 1
}

func newRootCommand() *cobra.Command {
	var f cliFlags
	cmd := &cobra.Command{
		Use:   "wsproxy",
		Short: "TCP tunnel behind a WebSocket-looking handshake",
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.NoArgs(cmd, args); err != nil {
				return usageError{err}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}

			logs, err := obs.Setup(cfg.LogFile, cfg.Debug)
			if err != nil {
				return err
			}
			defer logs.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if f.monitor {
				return runMonitor(ctx, cfg, cmd.OutOrStdout())
			}
			return runServer(ctx, cfg, cmd.OutOrStdout())
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	cmd.Flags().StringVarP(&f.bind, "bind", "b", "0.0.0.0", "Listening address")
	cmd.Flags().IntVarP(&f.port, "port", "p", 8880, "Listening port")
	cmd.Flags().BoolVar(&f.monitor, "monitor", false, "Print active IP connections periodically instead of serving")
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Path to a YAML config file")
	cmd.Flags().StringVar(&f.logFile, "log-file", "", "Append logs to this file (\"-\" for stderr)")
	cmd.Flags().StringVar(&f.metrics, "metrics", "", "Serve /metrics, /healthz and /api/registry on this address")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(newHashPassphraseCommand())
	return cmd
}

// loadConfig reads the config file and environment, then applies the flags
// that were given explicitly.
func loadConfig(cmd *cobra.Command, f cliFlags) (*config.Config, error) {
	flags := cmd.Flags()
	if flags.Changed("port") && (f.port < 1 || f.port > 65535) {
		return nil, usageError{fmt.Errorf("invalid port %d", f.port)}
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if flags.Changed("bind") {
		cfg.Bind = f.bind
	}
	if flags.Changed("port") {
		cfg.Port = f.port
	}
	if flags.Changed("log-file") {
		cfg.LogFile = f.logFile
		if cfg.LogFile == "-" {
			cfg.LogFile = ""
		}
	}
	if flags.Changed("metrics") {
		cfg.MetricsAddr = f.metrics
	}
	if flags.Changed("debug") {
		cfg.Debug = f.debug
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func runMonitor(ctx context.Context, cfg *config.Config, out io.Writer) error {
	var src admission.Source
	if cfg.Redis.Addr != "" {
		mirror, err := admission.NewRedisMirror(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Key)
		if err != nil {
			return err
		}
		defer mirror.Close()
		obs.Infof("monitor: reading snapshots from redis key %s", mirror.Key())
		src = mirror
	} else {
		obs.Warnf("monitor: no redis.addr configured, showing this process's registry only")
		src = admission.NewRegistry(cfg.MaxPerIP)
	}

	err := monitor.Run(ctx, src, cfg.MonitorInterval, out)
	fmt.Fprintln(out, "\nStopped monitor.")
	return err
}

func policyFrom(cfg *config.Config) tunnel.Policy {
	p := tunnel.Policy{Passphrase: cfg.Pass}
	if cfg.PassHash != "" {
		p.PassphraseHash = []byte(cfg.PassHash)
	}
	return p
}

func serverOptions(cfg *config.Config) tunnel.Options {
	opts := tunnel.Options{
		Host:             cfg.Bind,
		Port:             cfg.Port,
		DefaultTarget:    cfg.Target,
		Policy:           policyFrom(cfg),
		BufferSize:       cfg.BufferSize,
		PollInterval:     cfg.PollInterval,
		IdleThreshold:    cfg.IdleThreshold,
		HandshakeTimeout: cfg.HandshakeTimeout,
		ConnectTimeout:   cfg.ConnectTimeout,
		Gate:             admission.NewRateGate(cfg.ConnectRatePerIP, cfg.ConnectBurst),
	}
	if cfg.TLS.Enable {
		opts.TLSPort = cfg.TLS.Port
		opts.TLSCertFile = cfg.TLS.Cert
		opts.TLSKeyFile = cfg.TLS.Key
	}
	return opts
}

func printBanner(out io.Writer, cfg *config.Config) {
	fmt.Fprintln(out, "\n:------------ wsproxy ------------:")
	fmt.Fprintf(out, "Listening on %s:%d\n", cfg.Bind, cfg.Port)
	if cfg.TLS.Enable {
		fmt.Fprintf(out, "TLS on %s:%d\n", cfg.Bind, cfg.TLS.Port)
	}
	fmt.Fprintln(out, ":---------------------------------:")
	fmt.Fprintln(out)
}

func runServer(ctx context.Context, cfg *config.Config, out io.Writer) error {
	reg := admission.NewRegistry(cfg.MaxPerIP)
	srv := tunnel.NewServer(serverOptions(cfg), reg)

	var bg sync.WaitGroup
	defer bg.Wait()
	bgCtx, cancelBg := context.WithCancel(ctx)
	defer cancelBg()

	if cfg.MetricsAddr != "" {
		status := obs.NewStatusServer(cfg.MetricsAddr, func(ctx context.Context) (any, error) {
			return reg.Entries(ctx)
		})
		bg.Add(1)
		go func() {
			defer bg.Done()
			obs.ServeStatus(bgCtx, status)
		}()
	}

	if cfg.Redis.Addr != "" {
		mirror, err := admission.NewRedisMirror(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Key)
		if err != nil {
			obs.Warnf("redis mirror disabled: %v", err)
		} else {
			obs.Infof("mirroring registry to redis key %s", mirror.Key())
			bg.Add(1)
			go func() {
				defer bg.Done()
				defer mirror.Close()
				mirror.Run(bgCtx, reg, cfg.Redis.Interval, func(err error) {
					obs.Warnf("redis mirror: %v", err)
				})
			}()
		}
	}

	if cfg.MDNS {
		defer announceMDNS(cfg.Port)()
	}

	printBanner(out, cfg)
	obs.Infof("wsproxy starting on %s:%d, default target %s, max %d per IP", cfg.Bind, cfg.Port, cfg.Target, reg.Limit())

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		fmt.Fprintln(out, "Stopping server...")
		srv.Shutdown()
		err := <-errc
		obs.Infof("wsproxy stopped")
		return err
	case err := <-errc:
		srv.Shutdown()
		return err
	}
}
