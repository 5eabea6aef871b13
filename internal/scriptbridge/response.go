package scriptbridge

import "github.com/robertkrimen/otto"

// buildResponse installs the `response` global: a status property, a
// headers object, and a body object exposing write()/flush(). Status and
// header values are read back from the VM at the end of each chunk by Sync
// (see sync.go) rather than intercepted at assignment time; sealing is
// enforced by ignoring header/status changes observed after body.flush()
// was called.
func buildResponse(vm *otto.Otto, inv *Invocation) error {
	resp, err := vm.Object(`({})`)
	if err != nil {
		return err
	}

	resp.Set("status", inv.Status) //nolint:errcheck

	headers, err := vm.Object(`({})`)
	if err != nil {
		return err
	}
	resp.Set("headers", headers) //nolint:errcheck

	body, err := vm.Object(`({})`)
	if err != nil {
		return err
	}
	if err := body.Set("write", func(call otto.FunctionCall) otto.Value {
		// Writes stay open after a flush: sealing locks status/headers only,
		// and the next flush streams out whatever was appended here.
		chunk := call.Argument(0).String()
		inv.RespBody.Write(inv.RespHeaders, inv.Streaming, []byte(chunk))
		return otto.UndefinedValue()
	}); err != nil {
		return err
	}
	if err := body.Set("flush", func(call otto.FunctionCall) otto.Value {
		// The first flush captures status/headers as they stand and seals
		// them; later flushes only drain newly buffered bytes.
		if !inv.Sealed {
			syncResponseState(vm, inv) //nolint:errcheck
			inv.Sealed = true
		}
		if inv.OnFlush != nil {
			if err := inv.OnFlush(inv.RespBody.Bytes()); err != nil {
				panic(call.Otto.MakeCustomError("Error", err.Error()))
			}
			inv.RespBody.Truncate()
		}
		return otto.UndefinedValue()
	}); err != nil {
		return err
	}
	resp.Set("body", body) //nolint:errcheck

	return vm.Set("response", resp)
}
