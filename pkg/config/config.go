// Package config loads the daemon's YAML configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"ds485d/pkg/controller"
	"ds485d/pkg/frame"
)

// Config is the complete daemon configuration.
type Config struct {
	Serial SerialConfig `yaml:"serial"`
	// DSID is announced when joining an existing ring (24 hex digits).
	DSID     string      `yaml:"dsid"`
	Bus      BusConfig   `yaml:"bus"`
	Trace    TraceConfig `yaml:"trace"`
	LogLevel string      `yaml:"log_level"` // debug, info, warn, error
	// RequestTimeout bounds each response wait of a bus call.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// SerialConfig selects the serial line the bus is attached to.
type SerialConfig struct {
	Device   string `yaml:"device"`
	Baud     int    `yaml:"baud"`
	DataBits int    `yaml:"databits"`
	Parity   string `yaml:"parity"` // none, odd, even, mark, space
	StopBits int    `yaml:"stopbits"`
	// FrameTimeout is the longest gap tolerated inside a frame
	// (0 = auto: wire time of a maximum frame plus adapter margin).
	FrameTimeout time.Duration `yaml:"frame_timeout"`
}

// BusConfig overrides the arbitration timings. Zero values keep the
// controller defaults.
type BusConfig struct {
	SenseWindow         time.Duration `yaml:"sense_window"`
	SenseJitter         time.Duration `yaml:"sense_jitter"`
	SolicitInterval     time.Duration `yaml:"solicit_interval"`
	AckTimeout          time.Duration `yaml:"ack_timeout"`
	ResponseTimeout     time.Duration `yaml:"response_timeout"`
	TokenTimeout        time.Duration `yaml:"token_timeout"`
	JoinTimeout         time.Duration `yaml:"join_timeout"`
	FirstTokenTimeout   time.Duration `yaml:"first_token_timeout"`
	JoinSkipMin         int           `yaml:"join_skip_min"`
	JoinSkipMax         int           `yaml:"join_skip_max"`
	NoJoinSkip          bool          `yaml:"no_join_skip"`
	DenyShortJoin       bool          `yaml:"deny_short_join"`
	MaxFramesPerToken   int           `yaml:"max_frames_per_token"`
	MaxChecksumErrors   int           `yaml:"max_checksum_errors"`
	MaxRetries          int           `yaml:"max_retries"`
	JoinResponseTimeout time.Duration `yaml:"join_response_timeout"`
}

// TraceConfig controls the pcap trace of bus traffic.
type TraceConfig struct {
	Output    string `yaml:"output"`    // file or FIFO path, empty disables tracing
	Pipe      bool   `yaml:"pipe"`      // create Output as a named pipe
	BigEndian bool   `yaml:"bigendian"` // write the pcap in big-endian byte order
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	_ = Validate(cfg)
	return cfg
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Controller returns the arbitration settings.
func (c *Config) Controller() (controller.Config, error) {
	var id frame.DSID
	if c.DSID != "" {
		var err error
		if id, err = frame.ParseDSID(c.DSID); err != nil {
			return controller.Config{}, fmt.Errorf("dsid: %w", err)
		}
	}
	b := c.Bus
	return controller.Config{
		DSID:                id,
		SenseWindow:         b.SenseWindow,
		SenseJitter:         b.SenseJitter,
		SolicitInterval:     b.SolicitInterval,
		AckTimeout:          b.AckTimeout,
		ResponseTimeout:     b.ResponseTimeout,
		TokenTimeout:        b.TokenTimeout,
		JoinTimeout:         b.JoinTimeout,
		JoinResponseTimeout: b.JoinResponseTimeout,
		FirstTokenTimeout:   b.FirstTokenTimeout,
		JoinSkipMin:         b.JoinSkipMin,
		JoinSkipMax:         b.JoinSkipMax,
		NoJoinSkip:          b.NoJoinSkip,
		DenyShortJoin:       b.DenyShortJoin,
		MaxFramesPerToken:   b.MaxFramesPerToken,
		MaxChecksumErrors:   b.MaxChecksumErrors,
		MaxRetries:          b.MaxRetries,
	}, nil
}

// Level returns the configured log level.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}
