// pmbridge runs a PostMessage endpoint over a TCP developer connection.
//
// In listen mode it accepts one connection at a time, advertises itself as
// a _pebblemsg._tcp service and waits for the peer to start the handshake.
// In dial mode it connects to -addr, or to the first watch found via mDNS,
// and initiates the handshake. Each stdin line is parsed as JSON and posted;
// each inbound object is printed to stdout as one JSON line.
//
// Usage:
//
//	pmbridge [-config pmbridge.toml] [-mode listen|dial] [-addr host:port]
//
// Example:
//
//	pmbridge -mode listen -addr :9000
//	echo '{"ping":1}' | pmbridge -mode dial -addr 192.168.1.20:9000
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/logging"
)

// Options holds the command-line flags.
type Options struct {
	ConfigPath string
	Mode       string
	Addr       string
	LogLevel   string
}

// ParseFlags parses args into Options.
//
//	-config  TOML config file (default: built-in defaults)
//	-mode    listen or dial (default: from config, else listen)
//	-addr    listen address, or peer address in dial mode
//	-log     log level override
func ParseFlags(args []string) (Options, error) {
	var o Options
	fs := flag.NewFlagSet("pmbridge", flag.ContinueOnError)
	fs.StringVar(&o.ConfigPath, "config", "", "TOML config file")
	fs.StringVar(&o.Mode, "mode", "", "listen or dial")
	fs.StringVar(&o.Addr, "addr", "", "listen address, or peer address in dial mode (empty = mDNS)")
	fs.StringVar(&o.LogLevel, "log", "", "log level: trace|debug|info|warn|error|disabled")
	if err := fs.Parse(args); err != nil {
		return Options{}, err
	}
	return o, nil
}

// Resolve loads the config file, if any, and applies flag overrides.
func (o Options) Resolve() (Config, error) {
	cfg := DefaultConfig()
	if o.ConfigPath != "" {
		var err error
		if cfg, err = LoadConfig(o.ConfigPath); err != nil {
			return Config{}, err
		}
	}

	switch Mode(o.Mode) {
	case "":
	case ModeListen, ModeDial:
		cfg.Mode = Mode(o.Mode)
	default:
		return Config{}, fmt.Errorf("-mode: want listen or dial, got %q", o.Mode)
	}
	if o.Addr != "" {
		if cfg.Mode == ModeDial {
			cfg.Dial = o.Addr
		} else {
			cfg.Listen = o.Addr
		}
	}
	if o.LogLevel != "" {
		level, err := parseLogLevel(o.LogLevel)
		if err != nil {
			return Config{}, err
		}
		cfg.LogLevel = level
	}
	return cfg, nil
}

func main() {
	opts, err := ParseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	cfg, err := opts.Resolve()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = cfg.LogLevel

	bridge, err := NewBridge(cfg, lf, os.Stdin, os.Stdout)
	if err != nil {
		log.Fatalf("Failed to create bridge: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := bridge.Run(ctx); err != nil {
		log.Fatalf("Bridge error: %v", err)
	}
}
