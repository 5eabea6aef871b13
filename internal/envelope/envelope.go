// Package envelope parses the Lambda function URL / API Gateway payload
// format version "2.0" JSON event delivered as the body of a poll-next
// response.
package envelope

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anaef/lws-go/internal/codec"
	"github.com/anaef/lws-go/internal/table"
)

// rawEvent mirrors the subset of the payload-2.0 event shape this runtime
// reads; unrecognized fields are ignored by encoding/json.
type rawEvent struct {
	Version               string            `json:"version"`
	RawPath               string            `json:"rawPath"`
	RawQueryString        string            `json:"rawQueryString"`
	Headers               map[string]string `json:"headers"`
	Cookies               []string          `json:"cookies"`
	Body                  string            `json:"body"`
	IsBase64Encoded       bool              `json:"isBase64Encoded"`
	RequestContext        requestContext    `json:"requestContext"`
}

type requestContext struct {
	HTTP httpContext `json:"http"`
}

type httpContext struct {
	Method   string `json:"method"`
	SourceIP string `json:"sourceIp"`
}

// Request is the parsed, decoded view of one invocation event. Headers is
// a case-insensitive table; when the event carried a nonempty cookies
// array, it holds a synthesized Cookie header whose value replaces any
// inbound Cookie header regardless of its case.
type Request struct {
	Method      string
	Path        string
	QueryString string
	SourceIP    string
	Headers     *table.Table
	Body        []byte
}

// Parse decodes a payload-2.0 JSON event. It requires version=="2.0" and
// the required fields to be present with the correct JSON type; any other
// shape fails the invocation. Required-field presence is checked against a
// generic map first, because a plain struct unmarshal cannot distinguish
// "field absent" from "field present but zero value" for a string.
func Parse(raw []byte) (*Request, error) {
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("envelope: invalid JSON: %w", err)
	}
	if err := requireString(generic, "version"); err != nil {
		return nil, err
	}
	if err := requireString(generic, "rawPath"); err != nil {
		return nil, err
	}
	reqCtx, ok := generic["requestContext"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("envelope: missing or non-object requestContext")
	}
	httpCtx, ok := reqCtx["http"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("envelope: missing or non-object requestContext.http")
	}
	if err := requireString(httpCtx, "method"); err != nil {
		return nil, err
	}

	var ev rawEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("envelope: invalid JSON: %w", err)
	}
	if ev.Version != "2.0" {
		return nil, fmt.Errorf("envelope: unsupported payload version %q", ev.Version)
	}

	req := &Request{
		Method:      ev.RequestContext.HTTP.Method,
		Path:        ev.RawPath,
		QueryString: ev.RawQueryString,
		SourceIP:    ev.RequestContext.HTTP.SourceIP,
		Headers:     table.New(table.Policy{CaseInsensitive: true}),
	}
	for k, v := range ev.Headers {
		req.Headers.Set(k, v)
	}
	// The synthesized Cookie header is inserted after the inbound headers so
	// it replaces any inbound Cookie entry, whatever its case.
	if len(ev.Cookies) > 0 {
		req.Headers.Set("Cookie", strings.Join(ev.Cookies, ", "))
	}

	if ev.Body == "" {
		req.Body = nil
	} else if ev.IsBase64Encoded {
		body, err := codec.Decode(ev.Body)
		if err != nil {
			return nil, fmt.Errorf("envelope: invalid base64 body: %w", err)
		}
		req.Body = body
	} else {
		req.Body = []byte(ev.Body)
	}

	return req, nil
}

// requireString reports an error unless m[key] is present and a JSON string.
func requireString(m map[string]any, key string) error {
	v, ok := m[key]
	if !ok {
		return fmt.Errorf("envelope: missing required field %q", key)
	}
	if _, ok := v.(string); !ok {
		return fmt.Errorf("envelope: field %q has wrong type", key)
	}
	return nil
}
