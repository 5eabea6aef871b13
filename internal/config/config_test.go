package config_test

import (
	"strings"
	"testing"

	"github.com/anaef/lws-go/internal/config"
)

func setRequired(t *testing.T) {
	t.Setenv("AWS_LAMBDA_RUNTIME_API", "127.0.0.1:9001")
	t.Setenv("LAMBDA_TASK_ROOT", "/var/task")
	t.Setenv("LWS_MAIN", "main.js")
}

func clearOptional(t *testing.T) {
	for _, name := range []string{
		"LWS_MATCH", "LWS_PATH_INFO", "LWS_INIT", "LWS_PRE", "LWS_POST",
		"LWS_RAW", "LWS_GC", "LWS_REQ_MAX", "LWS_DIAGNOSTIC",
		"LWS_LOG_LEVEL", "LWS_LOG_TEXT",
	} {
		t.Setenv(name, "")
	}
}

func TestLoadMinimal(t *testing.T) {
	setRequired(t)
	clearOptional(t)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.RuntimeAPI != "127.0.0.1:9001" {
		t.Errorf("RuntimeAPI: got %q", cfg.RuntimeAPI)
	}
	if cfg.TaskRoot != "/var/task" {
		t.Errorf("TaskRoot: got %q", cfg.TaskRoot)
	}
	if cfg.Main != "main.js" {
		t.Errorf("Main: got %q", cfg.Main)
	}
	if cfg.Match != nil {
		t.Error("Match should be nil when LWS_MATCH is unset")
	}
	if cfg.Raw || cfg.StateDiagnostic {
		t.Error("flags should default to off")
	}
	if cfg.StateGC != 0 || cfg.StateReqMax != 0 {
		t.Error("numeric settings should default to 0")
	}
	if cfg.LogLevel != "ERR" {
		t.Errorf("LogLevel default: got %q, want ERR", cfg.LogLevel)
	}
}

func TestLoadFull(t *testing.T) {
	setRequired(t)
	clearOptional(t)
	t.Setenv("LWS_MATCH", "^/users/([0-9]+)$")
	t.Setenv("LWS_PATH_INFO", "$1")
	t.Setenv("LWS_INIT", "init.js")
	t.Setenv("LWS_PRE", "pre.js")
	t.Setenv("LWS_POST", "post.js")
	t.Setenv("LWS_RAW", "on")
	t.Setenv("LWS_GC", "4m")
	t.Setenv("LWS_REQ_MAX", "100")
	t.Setenv("LWS_DIAGNOSTIC", "on")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Match == nil || !cfg.Match.MatchString("/users/42") {
		t.Error("Match should compile and match /users/42")
	}
	if !cfg.Raw || !cfg.StateDiagnostic {
		t.Error("flags should be on")
	}
	if cfg.StateGC != 4*1024*1024 {
		t.Errorf("StateGC: got %d, want 4 MiB", cfg.StateGC)
	}
	if cfg.StateReqMax != 100 {
		t.Errorf("StateReqMax: got %d, want 100", cfg.StateReqMax)
	}
}

func TestLoadSizeSuffixes(t *testing.T) {
	setRequired(t)
	clearOptional(t)

	tests := []struct {
		in   string
		want int64
	}{
		{"512", 512},
		{"8k", 8 * 1024},
		{"2m", 2 * 1024 * 1024},
	}
	for _, tt := range tests {
		t.Setenv("LWS_GC", tt.in)
		cfg, err := config.Load()
		if err != nil {
			t.Fatalf("Load with LWS_GC=%q error: %v", tt.in, err)
		}
		if cfg.StateGC != tt.want {
			t.Errorf("LWS_GC=%q: got %d, want %d", tt.in, cfg.StateGC, tt.want)
		}
	}
}

func TestLoadMissingRequired(t *testing.T) {
	tests := []struct {
		name  string
		unset string
	}{
		{"runtime API", "AWS_LAMBDA_RUNTIME_API"},
		{"task root", "LAMBDA_TASK_ROOT"},
		{"main template", "LWS_MAIN"},
	}
	for _, tt := range tests {
		setRequired(t)
		clearOptional(t)
		t.Setenv(tt.unset, "")
		_, err := config.Load()
		if err == nil {
			t.Errorf("%s: expected error", tt.name)
			continue
		}
		if !strings.Contains(err.Error(), tt.unset) {
			t.Errorf("%s: error %q does not name %s", tt.name, err, tt.unset)
		}
	}
}

func TestLoadBadValues(t *testing.T) {
	tests := []struct {
		env   string
		value string
	}{
		{"LWS_RAW", "yes"},
		{"LWS_GC", "abc"},
		{"LWS_GC", "-1k"},
		{"LWS_REQ_MAX", "ten"},
		{"LWS_DIAGNOSTIC", "1"},
		{"LWS_MATCH", "("},
	}
	for _, tt := range tests {
		setRequired(t)
		clearOptional(t)
		t.Setenv(tt.env, tt.value)
		if _, err := config.Load(); err == nil {
			t.Errorf("%s=%q: expected error", tt.env, tt.value)
		}
	}
}
