package config

import (
	"fmt"

	"ds485d/pkg/frame"
)

// Validate checks cfg and fills in defaults for unset fields.
func Validate(cfg *Config) error {
	s := &cfg.Serial
	if s.Baud == 0 {
		s.Baud = 115200
	}
	if s.Baud < 0 {
		return fmt.Errorf("serial.baud must be > 0")
	}
	if s.DataBits == 0 {
		s.DataBits = 8
	}
	if s.DataBits < 5 || s.DataBits > 8 {
		return fmt.Errorf("serial.databits must be 5-8, got %d", s.DataBits)
	}
	if s.Parity == "" {
		s.Parity = "none"
	}
	if _, err := parseParity(s.Parity); err != nil {
		return fmt.Errorf("serial.parity: %w", err)
	}
	if s.StopBits == 0 {
		s.StopBits = 1
	}
	if _, err := parseStopBits(s.StopBits); err != nil {
		return fmt.Errorf("serial.stopbits: %w", err)
	}
	if s.FrameTimeout < 0 {
		return fmt.Errorf("serial.frame_timeout must not be negative")
	}

	if cfg.DSID != "" {
		if _, err := frame.ParseDSID(cfg.DSID); err != nil {
			return fmt.Errorf("dsid: %w", err)
		}
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if _, err := cfg.Level(); err != nil {
		return err
	}
	if cfg.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout must not be negative")
	}

	b := cfg.Bus
	if b.JoinSkipMin < 0 || b.JoinSkipMax < 0 {
		return fmt.Errorf("bus.join_skip_min and bus.join_skip_max must not be negative")
	}
	if b.JoinSkipMax > 0 && b.JoinSkipMax < b.JoinSkipMin {
		return fmt.Errorf("bus.join_skip_max (%d) is below bus.join_skip_min (%d)", b.JoinSkipMax, b.JoinSkipMin)
	}

	if cfg.Trace.Pipe && cfg.Trace.Output == "" {
		return fmt.Errorf("trace.pipe requires trace.output")
	}
	return nil
}
