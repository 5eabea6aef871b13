// Package scriptbridge exposes the `lws` module and the per-invocation
// `request`/`response` objects to script code. otto has no native
// file-handle type, so request.body and response.body are plain objects
// with read/write/flush methods: body.read() returns the whole decoded
// request body, and body.flush() seals the response headers and drives the
// streaming transport.
package scriptbridge

import (
	"fmt"
	"strings"

	"github.com/robertkrimen/otto"

	"github.com/anaef/lws-go/internal/httpstatus"
	"github.com/anaef/lws-go/internal/logger"
	"github.com/anaef/lws-go/internal/response"
	"github.com/anaef/lws-go/internal/table"
)

// Chunk identifies which script chunk is currently executing, used to
// enforce that setcomplete() is only callable from the pre chunk.
type Chunk int

const (
	ChunkInit Chunk = iota
	ChunkPre
	ChunkMain
	ChunkPost
)

func (c Chunk) String() string {
	switch c {
	case ChunkInit:
		return "init"
	case ChunkPre:
		return "pre"
	case ChunkMain:
		return "main"
	case ChunkPost:
		return "post"
	default:
		return "unknown"
	}
}

// Invocation is the per-request state the bridge exposes to scripts and
// that the orchestrator inspects afterward. A fresh Invocation is built for
// every poll.
type Invocation struct {
	Method     string
	Path       string
	Args       string // raw query string, for request.args and lws.parseargs
	PathInfo   string
	IP         string
	ReqHeaders *table.Table // case-insensitive, read-only to scripts
	ReqBody    []byte

	Status      int
	RespHeaders *table.Table // case-insensitive
	RespBody    *response.Body
	Sealed      bool // true once response.body:flush() has been called
	Streaming   bool // true once the first flush has opened a streaming response

	Complete bool // set by lws.setcomplete(); skips the main chunk
	Close    bool // set by lws.setclose(); forces state recycle after this request

	Chunk Chunk

	// OnFlush, if non-nil, is invoked when response.body.flush() runs,
	// giving the orchestrator a chance to push the buffered bytes out as a
	// streaming chunk.
	OnFlush func(body []byte) error

	log       *logger.Logger
	requestID string
}

// NewInvocation creates an Invocation with Status defaulted to 200 and
// RespHeaders/RespBody ready to receive script writes.
func NewInvocation(requestID string, log *logger.Logger) *Invocation {
	return &Invocation{
		Status:      200,
		ReqHeaders:  table.New(table.Policy{CaseInsensitive: true}),
		RespHeaders: table.New(table.Policy{CaseInsensitive: true}),
		RespBody:    response.NewBody(),
		log:         log,
		requestID:   requestID,
	}
}

// Build installs the `lws` module and the `request`/`response` objects as
// globals on vm, rebinding them fresh for this invocation. Ordinary global
// variables a script declares persist across invocations on the same
// interpreter: otto's global object is not reset between Build calls.
func Build(vm *otto.Otto, inv *Invocation) error {
	if err := buildLWSModule(vm, inv); err != nil {
		return err
	}
	if err := buildRequest(vm, inv); err != nil {
		return err
	}
	if err := buildResponse(vm, inv); err != nil {
		return err
	}
	return nil
}

func buildLWSModule(vm *otto.Otto, inv *Invocation) error {
	lws, err := vm.Object(`({})`)
	if err != nil {
		return err
	}

	if err := lws.Set("log", func(call otto.FunctionCall) otto.Value {
		lwsLog(inv, call)
		return otto.UndefinedValue()
	}); err != nil {
		return err
	}

	if err := lws.Set("setcomplete", func(call otto.FunctionCall) otto.Value {
		if inv.Chunk != ChunkPre {
			panic(call.Otto.MakeCustomError("Error", fmt.Sprintf("setcomplete not allowed in %s chunk", inv.Chunk)))
		}
		inv.Complete = true
		return otto.UndefinedValue()
	}); err != nil {
		return err
	}

	if err := lws.Set("setclose", func(call otto.FunctionCall) otto.Value {
		inv.Close = true
		return otto.UndefinedValue()
	}); err != nil {
		return err
	}

	if err := lws.Set("parseargs", func(call otto.FunctionCall) otto.Value {
		qs := ""
		if len(call.ArgumentList) > 0 {
			qs = call.Argument(0).String()
		}
		obj := parseArgsTable(call.Otto, qs)
		return obj.Value()
	}); err != nil {
		return err
	}

	status, err := vm.Object(`({})`)
	if err != nil {
		return err
	}
	for _, s := range httpstatus.All() {
		if err := status.Set(s.Name, s.Code); err != nil {
			return err
		}
	}
	if err := lws.Set("status", status); err != nil {
		return err
	}

	return vm.Set("lws", lws)
}

// lwsLog implements lws.log([level,] message); the leading level-name
// argument is optional and defaults to "err".
func lwsLog(inv *Invocation, call otto.FunctionCall) {
	args := call.ArgumentList
	level := "err"
	var msg string
	switch len(args) {
	case 0:
		return
	case 1:
		msg = args[0].String()
	default:
		level = strings.ToLower(args[0].String())
		msg = args[1].String()
	}
	inv.log.Log(logger.ParseLevel(level), inv.requestID, msg)
}

// parseArgsTable parses an application/x-www-form-urlencoded query string
// into a plain object: '&'-separated pairs split on the first '=', keys and
// values unescaped by unescapeURL. Empty keys are skipped; a pair with no
// '=' maps the key to "".
func parseArgsTable(vm *otto.Otto, qs string) *otto.Object {
	obj, _ := vm.Object(`({})`)
	if qs == "" {
		return obj
	}
	for _, pair := range strings.Split(qs, "&") {
		if pair == "" {
			continue
		}
		var key, val string
		if i := strings.IndexByte(pair, '='); i >= 0 {
			key, val = pair[:i], pair[i+1:]
		} else {
			key, val = pair, ""
		}
		key = unescapeURL(key)
		if key == "" {
			continue
		}
		val = unescapeURL(val)
		obj.Set(key, val) //nolint:errcheck
	}
	return obj
}
