package config

import (
	"fmt"
	"net"
	"strings"
	"unicode"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// listing every problem found.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateServer(cfg, ve)
	validateBot(cfg, ve)
	validateDispatch(cfg, ve)
	validateCommand(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want debug, info, warn or error)", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "text", "json", "":
	default:
		ve.Add("logger.format %q is invalid (want text or json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	switch cfg.Tracer.Exporter {
	case "stdout", "noop", "":
	default:
		ve.Add("tracer.exporter %q is invalid (want stdout or noop)", cfg.Tracer.Exporter)
	}
	if r := cfg.Tracer.SampleRatio; r < 0 || r > 1 {
		ve.Add("tracer.sample_ratio %v is out of range [0, 1]", r)
	}
}

func validateServer(cfg *Config, ve *ValidationError) {
	s := cfg.Server
	if s.Host == "" {
		ve.Add("server.host is required")
	} else if _, _, err := net.SplitHostPort(s.Host); err != nil {
		ve.Add("server.host %q must be host:port: %v", s.Host, err)
	}
	switch s.ConnectMode {
	case ModeWebSocket, ModeGRPC:
	default:
		ve.Add("server.connect_mode %q is invalid (want %s or %s)", s.ConnectMode, ModeWebSocket, ModeGRPC)
	}
	if s.Timeout <= 0 {
		ve.Add("server.timeout must be > 0")
	}
	if s.Retry < 0 {
		ve.Add("server.retry must be >= 0")
	}
	if s.SendRate < 0 {
		ve.Add("server.send_rate must be >= 0")
	}
	if s.SendRate > 0 && s.SendBurst <= 0 {
		ve.Add("server.send_burst must be > 0 when send_rate is set")
	}
	if s.Breaker.Enabled {
		if s.Breaker.MaxFailures == 0 {
			ve.Add("server.breaker.max_failures must be > 0")
		}
		if s.Breaker.Timeout <= 0 {
			ve.Add("server.breaker.timeout must be > 0")
		}
	}
}

func validateBot(cfg *Config, ve *ValidationError) {
	if cfg.Bot.Name == "" {
		ve.Add("bot.name is required")
	}
	switch cfg.Bot.Scheme {
	case "basic", "token":
	default:
		ve.Add("bot.scheme %q is invalid (want basic or token)", cfg.Bot.Scheme)
	}
}

func validateDispatch(cfg *Config, ve *ValidationError) {
	if t := cfg.Dispatch.Threshold; t < 0 || t > 1 {
		ve.Add("dispatch.threshold must be within [0, 1], got %g", t)
	}
	if cfg.Dispatch.WaitTimeout < 0 {
		ve.Add("dispatch.wait_timeout must be >= 0")
	}
}

func validateCommand(cfg *Config, ve *ValidationError) {
	if len(cfg.Command.Prefixes) == 0 {
		ve.Add("command.prefixes must not be empty")
	}
	seen := make(map[string]bool, len(cfg.Command.Prefixes))
	for i, p := range cfg.Command.Prefixes {
		switch {
		case p == "":
			ve.Add("command.prefixes[%d] is empty", i)
		case strings.ContainsFunc(p, unicode.IsSpace):
			ve.Add("command.prefixes[%d] %q contains whitespace", i, p)
		case seen[p]:
			ve.Add("command.prefixes[%d] %q is duplicated", i, p)
		}
		seen[p] = true
	}
}
