package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/backkem/pebblemsg/pkg/discovery"
	"github.com/backkem/pebblemsg/pkg/postmessage"
	"github.com/backkem/pebblemsg/pkg/transport"
	"github.com/pion/logging"
)

// Mode selects which side of the developer connection pmbridge runs.
type Mode string

const (
	// ModeListen accepts connections and waits for the peer's handshake.
	ModeListen Mode = "listen"

	// ModeDial connects out and initiates the handshake.
	ModeDial Mode = "dial"
)

// Config is the resolved pmbridge configuration.
type Config struct {
	Mode Mode

	// Listen is the listen address in ModeListen.
	Listen string

	// Dial is the peer address in ModeDial. Empty means resolve via mDNS.
	Dial string

	WriteTimeout time.Duration

	Capabilities         postmessage.Capabilities
	MaxObjectSize        int
	AckTimeout           time.Duration
	RetryDelay           time.Duration
	SessionClosedTimeout time.Duration
	FailureThreshold     int

	LogLevel logging.LogLevel

	Advertise     bool
	InstanceName  string
	FriendlyName  string
	BrowseTimeout time.Duration
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Mode:                 ModeListen,
		Listen:               fmt.Sprintf(":%d", transport.DefaultPort),
		Capabilities:         postmessage.DefaultCapabilities(),
		MaxObjectSize:        postmessage.DefaultMaxObjectSize,
		RetryDelay:           postmessage.DefaultRetryDelay,
		SessionClosedTimeout: postmessage.DefaultSessionClosedTimeout,
		FailureThreshold:     postmessage.DefaultFailureThreshold,
		LogLevel:             logging.LogLevelInfo,
		Advertise:            true,
		BrowseTimeout:        discovery.DefaultBrowseTimeout,
	}
}

type fileConfig struct {
	Link struct {
		Listen       string `toml:"listen"`
		Dial         string `toml:"dial"`
		WriteTimeout string `toml:"write_timeout"`
	} `toml:"link"`

	Session struct {
		MinVersion           int    `toml:"min_version"`
		MaxVersion           int    `toml:"max_version"`
		MaxTxChunkSize       int    `toml:"max_tx_chunk"`
		MaxRxChunkSize       int    `toml:"max_rx_chunk"`
		MaxObjectSize        int    `toml:"max_object_size"`
		AckTimeout           string `toml:"ack_timeout"`
		RetryDelay           string `toml:"retry_delay"`
		SessionClosedTimeout string `toml:"session_closed_timeout"`
		FailureThreshold     int    `toml:"failure_threshold"`
	} `toml:"session"`

	Log struct {
		Level string `toml:"level"`
	} `toml:"log"`

	Discovery struct {
		Advertise     bool   `toml:"advertise"`
		Instance      string `toml:"instance"`
		Name          string `toml:"name"`
		BrowseTimeout string `toml:"browse_timeout"`
	} `toml:"discovery"`
}

// LoadConfig reads a TOML file over DefaultConfig. Keys absent from the
// file keep their defaults.
func LoadConfig(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return raw.resolve(meta)
}

// ParseConfig is LoadConfig for in-memory TOML.
func ParseConfig(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return raw.resolve(meta)
}

func (raw *fileConfig) resolve(meta toml.MetaData) (Config, error) {
	cfg := DefaultConfig()

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}

	if meta.IsDefined("link", "listen") {
		cfg.Listen = strings.TrimSpace(raw.Link.Listen)
	}
	if meta.IsDefined("link", "dial") {
		cfg.Dial = strings.TrimSpace(raw.Link.Dial)
	}

	durations := []struct {
		key  []string
		val  string
		dest *time.Duration
	}{
		{[]string{"link", "write_timeout"}, raw.Link.WriteTimeout, &cfg.WriteTimeout},
		{[]string{"session", "ack_timeout"}, raw.Session.AckTimeout, &cfg.AckTimeout},
		{[]string{"session", "retry_delay"}, raw.Session.RetryDelay, &cfg.RetryDelay},
		{[]string{"session", "session_closed_timeout"}, raw.Session.SessionClosedTimeout, &cfg.SessionClosedTimeout},
		{[]string{"discovery", "browse_timeout"}, raw.Discovery.BrowseTimeout, &cfg.BrowseTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key...) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.val))
		if err != nil || v < 0 {
			return Config{}, fmt.Errorf("parse %s: invalid duration %q", strings.Join(d.key, "."), d.val)
		}
		*d.dest = v
	}

	ints := []struct {
		key  string
		val  int
		max  int
		dest func(int)
	}{
		{"min_version", raw.Session.MinVersion, 255, func(v int) { cfg.Capabilities.MinVersion = uint8(v) }},
		{"max_version", raw.Session.MaxVersion, 255, func(v int) { cfg.Capabilities.MaxVersion = uint8(v) }},
		{"max_tx_chunk", raw.Session.MaxTxChunkSize, 65535, func(v int) { cfg.Capabilities.MaxTxChunkSize = uint16(v) }},
		{"max_rx_chunk", raw.Session.MaxRxChunkSize, 65535, func(v int) { cfg.Capabilities.MaxRxChunkSize = uint16(v) }},
		{"max_object_size", raw.Session.MaxObjectSize, int(postmessage.MaxChunkValue), func(v int) { cfg.MaxObjectSize = v }},
		{"failure_threshold", raw.Session.FailureThreshold, 1000, func(v int) { cfg.FailureThreshold = v }},
	}
	for _, i := range ints {
		if !meta.IsDefined("session", i.key) {
			continue
		}
		if i.val <= 0 || i.val > i.max {
			return Config{}, fmt.Errorf("session.%s: %d out of range 1-%d", i.key, i.val, i.max)
		}
		i.dest(i.val)
	}
	if err := cfg.Capabilities.Validate(); err != nil {
		return Config{}, fmt.Errorf("session: %w", err)
	}

	if meta.IsDefined("log", "level") {
		level, err := parseLogLevel(raw.Log.Level)
		if err != nil {
			return Config{}, err
		}
		cfg.LogLevel = level
	}

	if meta.IsDefined("discovery", "advertise") {
		cfg.Advertise = raw.Discovery.Advertise
	}
	if meta.IsDefined("discovery", "instance") {
		cfg.InstanceName = strings.TrimSpace(raw.Discovery.Instance)
	}
	if meta.IsDefined("discovery", "name") {
		cfg.FriendlyName = strings.TrimSpace(raw.Discovery.Name)
	}

	return cfg, nil
}

func parseLogLevel(s string) (logging.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return logging.LogLevelTrace, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "info":
		return logging.LogLevelInfo, nil
	case "warn":
		return logging.LogLevelWarn, nil
	case "error":
		return logging.LogLevelError, nil
	case "disabled", "off":
		return logging.LogLevelDisabled, nil
	}
	return 0, fmt.Errorf("log.level: unknown level %q", s)
}
