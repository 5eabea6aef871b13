// Package orchestrator drives one invocation through the full pipeline:
// parse the envelope, match the path, resolve the main chunk, run the
// init/pre/main/post chain, and post the resulting buffered or streaming
// response back to the platform.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/robertkrimen/otto"

	"github.com/anaef/lws-go/internal/config"
	"github.com/anaef/lws-go/internal/envelope"
	"github.com/anaef/lws-go/internal/logger"
	"github.com/anaef/lws-go/internal/pathmatch"
	"github.com/anaef/lws-go/internal/platformapi"
	"github.com/anaef/lws-go/internal/response"
	"github.com/anaef/lws-go/internal/scriptbridge"
	"github.com/anaef/lws-go/internal/scriptstate"
	"github.com/anaef/lws-go/internal/statcache"
)

// Orchestrator holds the long-lived collaborators the pipeline needs on
// every invocation: configuration, the stat cache, the persistent
// interpreter state, and the platform-API client used both to report
// errors and to post the eventual response.
type Orchestrator struct {
	cfg    *config.Config
	log    *logger.Logger
	stat   *statcache.Cache
	state  *scriptstate.State
	client *platformapi.Client
}

// New creates an Orchestrator.
func New(cfg *config.Config, log *logger.Logger, stat *statcache.Cache, state *scriptstate.State, client *platformapi.Client) *Orchestrator {
	return &Orchestrator{cfg: cfg, log: log, stat: stat, state: state, client: client}
}

// Handle runs one invocation end to end: it parses the envelope (or takes
// the raw body verbatim in raw mode), matches the path, runs the script
// chunk chain, and posts the resulting response or streaming transfer.
// The returned status is the HTTP status that was delivered, or 0 when an
// envelope error was reported through an error post instead.
//
// Handle returns an error for a platform-API transport failure, or when the
// script environment or a response envelope could not be built; the caller
// (the main loop) then reports it as an invocation error. Envelope, routing
// and script failures are fully handled here by reporting the appropriate
// outcome to the platform.
func (o *Orchestrator) Handle(ctx context.Context, pi *platformapi.Invocation) (int, error) {
	requestID := pi.RequestID
	inv := scriptbridge.NewInvocation(requestID, o.log)

	var stream *platformapi.Stream
	inv.OnFlush = func(chunk []byte) error {
		if stream == nil {
			inv.Streaming = true
			prelude, err := response.BuildPrelude(inv.Status, inv.RespHeaders)
			if err != nil {
				return err
			}
			s, err := o.client.StreamResponse(ctx, requestID, prelude)
			if err != nil {
				return err
			}
			stream = s
		}
		if len(chunk) == 0 {
			return nil
		}
		_, err := stream.Write(chunk)
		return err
	}

	mainFile, notFound, err := o.prepareRequest(inv, pi.Body)
	if err != nil {
		o.log.Err(requestID, "envelope error: %s", err)
		return 0, o.client.PostError(ctx, requestID, err.Error())
	}
	if notFound {
		return 404, o.postErrorResponse(ctx, requestID, inv, 404, "")
	}

	status, err := o.runChunks(requestID, inv, mainFile)
	if err != nil {
		return 0, err
	}

	if inv.Streaming {
		// The prelude carried the definitive status.
		if status != 0 {
			o.log.Err(requestID, "ignoring HTTP status code after streaming response")
		}
		if stream == nil {
			return inv.Status, nil
		}
		if rest := inv.RespBody.Bytes(); len(rest) > 0 {
			if _, werr := stream.Write(rest); werr != nil {
				o.log.Crit(requestID, "failed to drain streaming response: %s", werr)
				return inv.Status, werr
			}
			inv.RespBody.Truncate()
		}
		if err := stream.Close(); err != nil {
			o.log.Crit(requestID, "failed to finalize streaming response: %s", err)
			return inv.Status, err
		}
		return inv.Status, nil
	}

	if status != 0 {
		diagnostic := ""
		if o.cfg.StateDiagnostic {
			diagnostic = o.state.Diagnostic()
		}
		if status < 100 || status > 599 {
			o.log.Err(requestID, "invalid status code: %d", status)
			status = response.ClampStatus(status)
		}
		return status, o.postErrorResponse(ctx, requestID, inv, status, diagnostic)
	}
	return inv.Status, o.postBufferedResponse(ctx, requestID, inv)
}

// prepareRequest populates inv's request-view fields from the poll body
// (envelope parsing, or raw passthrough), then matches the path and
// resolves the main-chunk filename against the stat cache. notFound is true
// when the path failed to match or the resolved file does not exist, in
// which case the caller short-circuits straight to a 404 response without
// ever acquiring the interpreter state.
func (o *Orchestrator) prepareRequest(inv *scriptbridge.Invocation, body []byte) (mainFile string, notFound bool, err error) {
	if o.cfg.Raw {
		inv.ReqBody = body
	} else {
		req, perr := envelope.Parse(body)
		if perr != nil {
			return "", false, perr
		}
		inv.Method = req.Method
		inv.Path = req.Path
		inv.Args = req.QueryString
		inv.IP = req.SourceIP
		inv.ReqBody = req.Body
		inv.ReqHeaders = req.Headers
	}

	groups, matched := pathmatch.Match(o.cfg.Match, inv.Path)
	if !matched {
		return "", true, nil
	}

	mainRel, serr := pathmatch.Substitute(o.cfg.Main, groups)
	if serr != nil {
		return "", true, nil
	}
	mainFile = o.cfg.TaskRoot + "/" + mainRel

	found, serr := o.stat.Stat(mainFile)
	if serr != nil {
		return "", false, fmt.Errorf("orchestrator: stat main file: %w", serr)
	}
	if !found {
		return "", true, nil
	}

	if o.cfg.PathInfo != "" {
		pathInfo, serr := pathmatch.Substitute(o.cfg.PathInfo, groups)
		if serr != nil {
			return "", true, nil
		}
		inv.PathInfo = pathInfo
	}

	return mainFile, false, nil
}

// runChunks acquires the interpreter state, builds the per-invocation
// environment, and dispatches init/pre/main/post in order. It returns
// (status, nil) on a normal completion: status is 0 for a plain success
// (inv.Status/inv.RespHeaders carry whatever the script set) or a positive
// HTTP status that a chunk asked to short-circuit with; a negative chunk rc
// and any thrown script error are folded into status 500 here. The error
// return is reserved for failures in the orchestrator's own state machine,
// not script-level failures.
func (o *Orchestrator) runChunks(requestID string, inv *scriptbridge.Invocation, mainFile string) (status int, err error) {
	vm := o.state.Acquire()

	if err := scriptbridge.Build(vm, inv); err != nil {
		o.state.Release(0)
		return 0, fmt.Errorf("orchestrator: build script environment: %w", err)
	}

	if !o.state.Initialized() {
		if o.cfg.Init != "" {
			if _, hardErr := o.runChunk(requestID, inv, scriptbridge.ChunkInit, o.cfg.Init); hardErr {
				o.state.Release(0)
				return 500, nil
			}
		}
		o.state.MarkInitialized()
	}

	rc := 0
	if o.cfg.Pre != "" {
		r, hardErr := o.runChunk(requestID, inv, scriptbridge.ChunkPre, o.cfg.Pre)
		if hardErr {
			o.state.Release(0)
			return 500, nil
		}
		rc = r
		if rc > 0 {
			// A positive pre rc both completes the request (main is
			// skipped) and carries through as the delivered status.
			inv.Complete = true
		}
	}

	if !inv.Complete {
		r, hardErr := o.runChunk(requestID, inv, scriptbridge.ChunkMain, mainFile)
		if hardErr {
			o.state.Release(0)
			return 500, nil
		}
		rc = r
	}

	if o.cfg.Post != "" {
		if _, hardErr := o.runChunk(requestID, inv, scriptbridge.ChunkPost, o.cfg.Post); hardErr {
			o.state.Release(0)
			return 500, nil
		}
	}

	if err := scriptbridge.Sync(vm, inv); err != nil {
		o.log.Warn(requestID, "failed to read back response state: %s", err)
	}

	if inv.Close {
		o.state.RequestClose()
	}
	o.state.Release(len(inv.RespBody.Bytes()))

	return rc, nil
}

// runChunk compiles (on first use, then caches on the state) and runs the
// chunk file at filename. hardErr is true when the chunk threw, its
// host-level execution failed, or it returned a negative rc; any of these
// aborts the rest of the chunk chain, forces the state closed, and turns
// the invocation into a 500. A non-numeric completion is not an error: it
// counts as rc 0 (see chunkResult).
func (o *Orchestrator) runChunk(requestID string, inv *scriptbridge.Invocation, chunk scriptbridge.Chunk, filename string) (rc int, hardErr bool) {
	inv.Chunk = chunk

	val, err := scriptstate.Run(o.state, requestID, func(vm *otto.Otto) (otto.Value, error) {
		script, ok := o.state.Chunk(filename)
		if !ok {
			compiled, cerr := vm.Compile(filename, nil)
			if cerr != nil {
				return otto.Value{}, fmt.Errorf("failed to load %s chunk %q: %w", chunk, filename, cerr)
			}
			script = compiled
			o.state.CacheChunk(filename, script)
		}
		return vm.Run(script)
	})
	if err != nil {
		return 0, true
	}

	rc = chunkResult(val)
	if rc < 0 {
		msg := fmt.Sprintf("%s chunk failed (%d)", chunk, rc)
		o.log.Err(requestID, "%s", msg)
		o.state.RecordDiagnostic(msg)
		o.state.RequestClose()
		return 0, true
	}
	return rc, false
}

// chunkResult converts a chunk's completion value to its integer rc. Only a
// numeric completion is meaningful; anything else (undefined, null, the
// value of a trailing assignment or call) counts as "no result" and maps to
// 0, since a script's completion value is simply its last expression.
func chunkResult(v otto.Value) int {
	if !v.IsNumber() {
		return 0
	}
	n, err := v.ToInteger()
	if err != nil {
		return 0
	}
	return int(n)
}

// postErrorResponse builds and posts the {error:{code,message,diagnostic?}}
// envelope for a routing (404) or script (500, or any other positive chunk
// rc) failure. Any partial body a script wrote before failing is discarded.
func (o *Orchestrator) postErrorResponse(ctx context.Context, requestID string, inv *scriptbridge.Invocation, code int, diagnostic string) error {
	inv.RespBody.Truncate()
	inv.Status = code
	body, err := response.BuildErrorResponse(code, diagnostic)
	if err != nil {
		return fmt.Errorf("orchestrator: build error response: %w", err)
	}
	if o.cfg.Raw {
		// An error response is always a JSON document; raw mode only
		// changes how a successful script response is framed.
		return o.client.PostResponse(ctx, requestID, body)
	}
	env, err := response.BuildEnvelope(code, inv.RespHeaders, body)
	if err != nil {
		return fmt.Errorf("orchestrator: build error envelope: %w", err)
	}
	return o.client.PostResponse(ctx, requestID, env)
}

// postBufferedResponse posts the normal (non-error, non-streaming) response
// built from whatever the script wrote to response.body.
func (o *Orchestrator) postBufferedResponse(ctx context.Context, requestID string, inv *scriptbridge.Invocation) error {
	if o.cfg.Raw {
		return o.client.PostResponse(ctx, requestID, response.BuildRawResponse(inv.RespBody.Bytes()))
	}
	env, err := response.BuildEnvelope(inv.Status, inv.RespHeaders, inv.RespBody.Bytes())
	if err != nil {
		return fmt.Errorf("orchestrator: build response envelope: %w", err)
	}
	return o.client.PostResponse(ctx, requestID, env)
}
