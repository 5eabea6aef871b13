package scriptbridge

import "github.com/robertkrimen/otto"

// buildRequest installs the `request` global: method, path, args,
// path_info, ip, a headers object (one property per inbound header, case
// preserved as received), and a body object exposing read(). Headers are
// populated as plain properties rather than wired back to the live
// table.Table, so a script mutating request.headers has no effect on the
// runtime -- read-only behavior by copy rather than interception.
func buildRequest(vm *otto.Otto, inv *Invocation) error {
	req, err := vm.Object(`({})`)
	if err != nil {
		return err
	}

	fields := []struct {
		name  string
		value string
	}{
		{"method", inv.Method},
		{"path", inv.Path},
		{"args", inv.Args},
		{"path_info", inv.PathInfo},
		{"ip", inv.IP},
	}
	for _, f := range fields {
		if err := req.Set(f.name, f.value); err != nil {
			return err
		}
	}

	headers, err := vm.Object(`({})`)
	if err != nil {
		return err
	}
	inv.ReqHeaders.Each(func(key string, value any) bool {
		v, _ := value.(string)
		headers.Set(key, v) //nolint:errcheck
		return true
	})
	if err := req.Set("headers", headers); err != nil {
		return err
	}

	body, err := vm.Object(`({})`)
	if err != nil {
		return err
	}
	if err := body.Set("read", func(call otto.FunctionCall) otto.Value {
		// Only the "*a"/"a" whole-body read mode is meaningful here; the
		// body is already fully buffered.
		v, _ := vm.ToValue(string(inv.ReqBody))
		return v
	}); err != nil {
		return err
	}
	if err := req.Set("body", body); err != nil {
		return err
	}

	return vm.Set("request", req)
}
