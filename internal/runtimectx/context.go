// Package runtimectx defines the runtime's long-lived process state: the
// struct owned by the main loop and read on every invocation, grouping
// configuration and persistent state. Per-invocation data is instead
// carried by internal/scriptbridge.Invocation, created fresh for each
// poll, so there is no standing per-invocation struct here to reset.
package runtimectx

import (
	"regexp"

	"github.com/anaef/lws-go/internal/config"
	"github.com/anaef/lws-go/internal/logger"
	"github.com/anaef/lws-go/internal/metrics"
	"github.com/anaef/lws-go/internal/platformapi"
	"github.com/anaef/lws-go/internal/scriptstate"
	"github.com/anaef/lws-go/internal/statcache"
)

// statCacheCap is the stat cache's entry capacity.
const statCacheCap = 1024

// Context is the long-lived, process-scoped runtime state.
type Context struct {
	// Configuration, immutable after startup.
	Config *config.Config
	Log    *logger.Logger

	// Persistent state.
	StatCache *statcache.Cache
	Client    *platformapi.Client
	State     *scriptstate.State
	Metrics   *metrics.Metrics
}

// New creates a Context from a loaded configuration and logger, wiring up
// the platform-API client, the stat cache, the persistent interpreter
// state, and the invocation counters.
func New(cfg *config.Config, log *logger.Logger) *Context {
	return &Context{
		Config:    cfg,
		Log:       log,
		StatCache: statcache.New(statCacheCap),
		Client:    platformapi.New(cfg.RuntimeAPI),
		State: scriptstate.New(scriptstate.Policy{
			GCThresholdBytes: cfg.StateGC,
			MaxRequests:      cfg.StateReqMax,
			Diagnostic:       cfg.StateDiagnostic,
		}, log),
		Metrics: metrics.New(),
	}
}

// MatchRegexp exposes the compiled LWS_MATCH pattern, or nil for "match all".
func (c *Context) MatchRegexp() *regexp.Regexp {
	return c.Config.Match
}
