// Package scriptstate manages the lifecycle of the persistent script
// interpreter: creation, acquisition, request-count-based recycling, and
// error-triggered closing. The interpreter itself is
// github.com/robertkrimen/otto.
package scriptstate

import (
	"fmt"
	"runtime"

	"github.com/robertkrimen/otto"

	"github.com/anaef/lws-go/internal/logger"
)

// Policy configures recycling behavior, read once from configuration at
// startup (LWS_GC, LWS_REQ_MAX, LWS_DIAGNOSTIC).
type Policy struct {
	// GCThresholdBytes triggers an explicit garbage collection after a
	// state has produced at least this many cumulative bytes of response
	// body since the last collection. Zero disables explicit GC.
	//
	// otto does not report its own heap usage, so cumulative
	// response-body size is used as the nearest available proxy for
	// memory pressure.
	GCThresholdBytes int64

	// MaxRequests closes and recreates the state after it has served this
	// many requests. Zero means unlimited.
	MaxRequests int64

	// Diagnostic, when true, captures script error text for inclusion in
	// the error response.
	Diagnostic bool
}

// State wraps one persistent otto.Otto interpreter plus its lifecycle
// bookkeeping.
type State struct {
	vm *otto.Otto

	policy Policy
	log    *logger.Logger

	initialized    bool // init chunk has run (state_init)
	reqCount       int64
	bytesSinceGC   int64
	forceClose     bool // set by a script error or setclose()
	lastDiagnostic string

	chunks map[string]*otto.Script
}

// Chunk returns the compiled script cached under filename, if any. The
// cache lives and dies with the interpreter instance.
func (s *State) Chunk(filename string) (*otto.Script, bool) {
	c, ok := s.chunks[filename]
	return c, ok
}

// CacheChunk stores a compiled script under filename for reuse by later
// invocations against the same interpreter instance.
func (s *State) CacheChunk(filename string, script *otto.Script) {
	if s.chunks == nil {
		s.chunks = make(map[string]*otto.Script)
	}
	s.chunks[filename] = script
}

// New creates an empty State; the underlying interpreter is created lazily
// by Acquire.
func New(policy Policy, log *logger.Logger) *State {
	return &State{policy: policy, log: log}
}

// Acquire returns the live *otto.Otto, creating it if this is the first
// acquisition since construction or the last Release closed it.
func (s *State) Acquire() *otto.Otto {
	if s.vm == nil {
		s.vm = otto.New()
		s.initialized = false
		s.reqCount = 0
		s.bytesSinceGC = 0
		s.forceClose = false
		s.chunks = nil
	}
	return s.vm
}

// Initialized reports whether the init chunk has already run on the current
// interpreter instance.
func (s *State) Initialized() bool { return s.initialized }

// MarkInitialized records that the init chunk has run.
func (s *State) MarkInitialized() { s.initialized = true }

// RequestClose requests that the state be closed after this invocation.
// Both the script-visible lws.setclose() and the automatic close after a
// chunk error arrive here.
func (s *State) RequestClose() { s.forceClose = true }

// RecordDiagnostic stores script error text for inclusion in the error
// response when Policy.Diagnostic is set.
func (s *State) RecordDiagnostic(msg string) {
	if s.policy.Diagnostic {
		s.lastDiagnostic = msg
	}
}

// Diagnostic returns (and clears) the last recorded diagnostic text.
func (s *State) Diagnostic() string {
	d := s.lastDiagnostic
	s.lastDiagnostic = ""
	return d
}

// Release finishes one invocation against the state: it increments the
// request count, then closes the state if a close was requested, the
// request-count ceiling was reached, or forces a garbage collection if the
// configured byte threshold was crossed. bodyBytes is the size of the
// response body just produced, folded into the GC-threshold heuristic.
func (s *State) Release(bodyBytes int) {
	s.reqCount++
	s.bytesSinceGC += int64(bodyBytes)

	if s.forceClose || (s.policy.MaxRequests > 0 && s.reqCount >= s.policy.MaxRequests) {
		s.Close()
		return
	}

	if s.policy.GCThresholdBytes > 0 && s.bytesSinceGC >= s.policy.GCThresholdBytes {
		runtime.GC()
		s.bytesSinceGC = 0
	}
}

// Close discards the interpreter. A subsequent Acquire creates a fresh
// one.
func (s *State) Close() {
	s.vm = nil
	s.initialized = false
	s.reqCount = 0
	s.bytesSinceGC = 0
	s.forceClose = false
	s.chunks = nil
}

// Run invokes fn with the live interpreter, recovering from any panic fn
// raises (otto panics internally for VM-level faults) and converting it
// into an error plus a forced close.
func Run(s *State, requestID string, fn func(vm *otto.Otto) (otto.Value, error)) (result otto.Value, err error) {
	vm := s.Acquire()
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("%v", r)
			s.log.Err(requestID, "script state panic: %s", msg)
			s.RecordDiagnostic(msg)
			s.RequestClose()
			err = fmt.Errorf("scriptstate: panic: %s", msg)
		}
	}()
	result, err = fn(vm)
	if err != nil {
		s.log.Err(requestID, "script error: %s", err)
		s.RecordDiagnostic(err.Error())
		s.RequestClose()
	}
	return result, err
}
