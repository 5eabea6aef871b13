package scriptbridge

import "github.com/robertkrimen/otto"

// Sync reads back the response.status and response.headers values a chunk
// may have set by direct property assignment -- otto has no hook to
// intercept `response.status = ...` at assignment time, so the bridge
// re-reads the live object after each chunk runs instead. It is a no-op
// once inv.Sealed: the values captured at the first flush are definitive.
func Sync(vm *otto.Otto, inv *Invocation) error {
	if inv.Sealed {
		return nil
	}
	return syncResponseState(vm, inv)
}

// syncResponseState rereads response.status and response.headers from vm
// into inv, unconditionally. Used both by Sync (end of chunk) and by
// response.body:flush() (which must capture the status/headers exactly as
// they stand at the moment of the first flush, before sealing them).
func syncResponseState(vm *otto.Otto, inv *Invocation) error {
	respObj, err := responseObject(vm)
	if err != nil || respObj == nil {
		return err
	}

	if statusVal, err := respObj.Get("status"); err == nil && statusVal.IsDefined() {
		if n, err := statusVal.ToInteger(); err == nil {
			inv.Status = int(n)
		}
	}

	headersVal, err := respObj.Get("headers")
	if err != nil {
		return err
	}
	headersObj := headersVal.Object()
	if headersObj == nil {
		return nil
	}
	inv.RespHeaders.Clear()
	for _, key := range headersObj.Keys() {
		v, err := headersObj.Get(key)
		if err != nil {
			continue
		}
		inv.RespHeaders.Set(key, v.String())
	}
	return nil
}

func responseObject(vm *otto.Otto) (*otto.Object, error) {
	resp, err := vm.Get("response")
	if err != nil {
		return nil, err
	}
	return resp.Object(), nil
}
