// Package config loads the runtime's configuration from the process
// environment: a struct of settings populated once at startup, with
// required-variable checks and on/off, integer, and size-suffix parsing.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Config holds every tunable read from the environment at startup. It is
// loaded once and then shared read-only across the process.
type Config struct {
	// RuntimeAPI is the host:port of the platform's invocation endpoint
	// (AWS_LAMBDA_RUNTIME_API). Required.
	RuntimeAPI string

	// TaskRoot is the base directory script filenames are resolved against
	// (LAMBDA_TASK_ROOT). Required.
	TaskRoot string

	// Match is the compiled path-matching regular expression (LWS_MATCH).
	// A nil Match means "match all paths".
	Match *regexp.Regexp

	// Main is the main-chunk filename template (LWS_MAIN, `$0`..`$9`
	// substitution allowed). Required.
	Main string

	// PathInfo is the optional path-info template (LWS_PATH_INFO).
	PathInfo string

	// Init, Pre, Post are optional chunk filenames (LWS_INIT/LWS_PRE/LWS_POST).
	Init string
	Pre  string
	Post string

	// Raw enables raw passthrough mode (LWS_RAW=on/off).
	Raw bool

	// StateGC is the explicit-GC byte threshold (LWS_GC, suffix k/m); 0
	// means never force a GC.
	StateGC int64

	// StateReqMax bounds requests served per interpreter state (LWS_REQ_MAX);
	// 0 means unlimited.
	StateReqMax int64

	// StateDiagnostic includes script error text in the error envelope
	// (LWS_DIAGNOSTIC=on/off).
	StateDiagnostic bool

	// LogLevel and LogText configure the Logger (LWS_LOG_LEVEL,
	// LWS_LOG_TEXT). Defaults to ERR / JSON.
	LogLevel string
	LogText  bool
}

// Load reads and validates the runtime configuration from the process
// environment, returning an error that describes the first problem found.
// Required variables missing, or malformed values for LWS_RAW / LWS_GC /
// LWS_REQ_MAX / LWS_DIAGNOSTIC / LWS_MATCH, are all reported this way so
// the caller can post an initialization error and exit.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.RuntimeAPI = strings.TrimSpace(os.Getenv("AWS_LAMBDA_RUNTIME_API"))
	if cfg.RuntimeAPI == "" {
		return nil, fmt.Errorf("config: AWS_LAMBDA_RUNTIME_API not set")
	}

	cfg.TaskRoot = strings.TrimSpace(os.Getenv("LAMBDA_TASK_ROOT"))
	if cfg.TaskRoot == "" {
		return nil, fmt.Errorf("config: LAMBDA_TASK_ROOT not set")
	}

	if match := os.Getenv("LWS_MATCH"); match != "" {
		re, err := regexp.Compile(match)
		if err != nil {
			return nil, fmt.Errorf("config: failed to compile LWS_MATCH regex: %w", err)
		}
		cfg.Match = re
	}

	cfg.Main = os.Getenv("LWS_MAIN")
	if cfg.Main == "" {
		return nil, fmt.Errorf("config: LWS_MAIN not set")
	}

	cfg.PathInfo = os.Getenv("LWS_PATH_INFO")
	cfg.Init = os.Getenv("LWS_INIT")
	cfg.Pre = os.Getenv("LWS_PRE")
	cfg.Post = os.Getenv("LWS_POST")

	var err error
	if cfg.Raw, err = getenvFlag("LWS_RAW"); err != nil {
		return nil, err
	}
	if cfg.StateGC, err = getenvSize("LWS_GC"); err != nil {
		return nil, err
	}
	if cfg.StateReqMax, err = getenvInt("LWS_REQ_MAX"); err != nil {
		return nil, err
	}
	if cfg.StateDiagnostic, err = getenvFlag("LWS_DIAGNOSTIC"); err != nil {
		return nil, err
	}

	cfg.LogLevel = os.Getenv("LWS_LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "ERR"
	}
	cfg.LogText, _ = getenvFlag("LWS_LOG_TEXT")

	return cfg, nil
}

// getenvFlag parses an "on"/"off" environment variable, defaulting to false
// when unset or empty.
func getenvFlag(name string) (bool, error) {
	v := os.Getenv(name)
	switch v {
	case "", "off":
		return false, nil
	case "on":
		return true, nil
	default:
		return false, fmt.Errorf("config: bad %s value %q (want \"on\" or \"off\")", name, v)
	}
}

// getenvInt parses a plain decimal integer environment variable, defaulting
// to 0 when unset or empty.
func getenvInt(name string) (int64, error) {
	v := os.Getenv(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: bad %s value %q: %w", name, v, err)
	}
	return n, nil
}

// getenvSize parses a byte-count environment variable with an optional "k"
// or "m" suffix (1024 / 1024*1024 multiplier).
func getenvSize(name string) (int64, error) {
	v := os.Getenv(name)
	if v == "" {
		return 0, nil
	}
	mult := int64(1)
	digits := v
	if last := v[len(v)-1]; last == 'k' || last == 'm' {
		digits = v[:len(v)-1]
		if last == 'k' {
			mult = 1024
		} else {
			mult = 1024 * 1024
		}
	}
	base, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || base < 0 {
		return 0, fmt.Errorf("config: bad %s value %q", name, v)
	}
	return base * mult, nil
}
