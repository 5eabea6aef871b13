// Package response assembles the buffered and streaming HTTP response
// envelopes scripts build against: the growable body sink, the UTF-8 vs
// base64 transport decision, the {statusCode,headers,cookies,body} response
// JSON, the streaming prelude, and the {error:{...}} error body.
package response

import (
	"encoding/json"
	"strings"

	"github.com/anaef/lws-go/internal/bytestring"
	"github.com/anaef/lws-go/internal/codec"
	"github.com/anaef/lws-go/internal/httpstatus"
	"github.com/anaef/lws-go/internal/table"
)

// Body is an in-memory response-body sink with amortized growth: start at
// 4096 bytes, double until 1 MiB, then grow by 1.5x, never shrinking.
type Body struct {
	buf        []byte
	likelyUTF8 bool
	sniffed    bool
}

const (
	initialCap = 4096
	growCap    = 1 << 20
)

// NewBody creates an empty response body sink.
func NewBody() *Body { return &Body{} }

// sniff inspects the Content-Type header (if already set when the first
// write happens) to decide whether the body is likely textual. The hint
// affects capacity pre-sizing only; the transport decision is made from the
// actual bytes in EncodeTransport. Called lazily on first Write.
func (b *Body) sniff(headers *table.Table) {
	if b.sniffed {
		return
	}
	b.sniffed = true
	if headers == nil {
		return
	}
	v, ok := headers.Get("Content-Type")
	if !ok {
		return
	}
	ct, _ := v.(string)
	for _, prefix := range []string{"text/html", "text/plain", "application/json"} {
		if strings.HasPrefix(ct, prefix) {
			b.likelyUTF8 = true
			return
		}
	}
}

// Write appends data to the body, growing the backing array per the
// amortized policy.
func (b *Body) Write(headers *table.Table, streaming bool, data []byte) {
	b.sniff(headers)
	need := len(b.buf) + len(data)
	if cap(b.buf) < need {
		newCap := grow(cap(b.buf), need)
		grown := make([]byte, len(b.buf), newCap)
		copy(grown, b.buf)
		b.buf = grown
	}
	b.buf = append(b.buf, data...)
}

// grow computes the next backing capacity >= need, starting from cur.
func grow(cur, need int) int {
	if cur == 0 {
		cur = initialCap
	}
	for cur < need {
		if cur < growCap {
			cur *= 2
		} else {
			cur = cur + cur/2
		}
	}
	return cur
}

// Bytes returns the body's current contents.
func (b *Body) Bytes() []byte { return b.buf }

// LikelyUTF8 reports whether the sniffed Content-Type suggested a textual
// body; it is meaningful only after at least one Write.
func (b *Body) LikelyUTF8() bool { return b.likelyUTF8 }

// Truncate resets the body to empty, used to discard a partial body before
// writing an error response.
func (b *Body) Truncate() { b.buf = b.buf[:0] }

// ClampStatus coerces a status code outside [100, 599] to 500.
func ClampStatus(code int) int {
	if code < 100 || code > 599 {
		return 500
	}
	return code
}

// EncodeTransport decides whether the body travels as raw UTF-8 text or
// base64, and returns the encoded payload plus whether isBase64Encoded
// should be set.
func EncodeTransport(body []byte) (payload string, isBase64 bool, err error) {
	if codec.ValidUTF8(body) {
		return string(body), false, nil
	}
	enc, err := codec.Encode(body)
	if err != nil {
		return "", false, err
	}
	return enc, true, nil
}

// Envelope is the JSON shape posted back to the platform API for a buffered
// (non-streaming) response.
type Envelope struct {
	StatusCode      int               `json:"statusCode"`
	Headers         map[string]string `json:"headers"`
	Cookies         []string          `json:"cookies,omitempty"`
	Body            string            `json:"body"`
	IsBase64Encoded bool              `json:"isBase64Encoded"`
}

// splitHeaders separates the response header table into the headers map and
// the cookies array: any Set-Cookie entry is exploded into one cookie per
// comma-separated, OWS-trimmed segment (empty segments skipped) and removed
// from the map. The headers map is always non-nil so it marshals as an
// empty object rather than being dropped; an empty cookies result stays nil
// so the cookies key is omitted from the emitted JSON entirely.
func splitHeaders(headers *table.Table) (map[string]string, []string) {
	hm := make(map[string]string, headers.Len())
	var cookies []string
	headers.Each(func(key string, value any) bool {
		v, _ := value.(string)
		if strings.EqualFold(key, "Set-Cookie") {
			for _, c := range bytestring.SplitAndTrim(v, ',') {
				if c != "" {
					cookies = append(cookies, c)
				}
			}
			return true
		}
		hm[key] = v
		return true
	})
	return hm, cookies
}

// BuildEnvelope assembles the JSON response envelope from the accumulated
// status/headers/body. A status outside the valid HTTP range is coerced to
// 500 here, at post time.
func BuildEnvelope(status int, headers *table.Table, body []byte) ([]byte, error) {
	env := Envelope{StatusCode: ClampStatus(status)}
	env.Headers, env.Cookies = splitHeaders(headers)

	payload, isBase64, err := EncodeTransport(body)
	if err != nil {
		return nil, err
	}
	env.Body = payload
	env.IsBase64Encoded = isBase64

	return json.Marshal(env)
}

// preludeEnvelope is the JSON shape sent as a streaming response's prelude:
// the same statusCode/headers/cookies as Envelope, but with no body field.
type preludeEnvelope struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Cookies    []string          `json:"cookies,omitempty"`
}

// BuildPrelude assembles the streaming response's prelude JSON object: the
// status and headers (with Set-Cookie split into a cookies array exactly as
// BuildEnvelope does), but no body/isBase64Encoded field. The status
// captured here is definitive for the whole streamed response.
func BuildPrelude(status int, headers *table.Table) ([]byte, error) {
	env := preludeEnvelope{StatusCode: ClampStatus(status)}
	env.Headers, env.Cookies = splitHeaders(headers)
	return json.Marshal(env)
}

// BuildRawResponse assembles the response posted in LWS_RAW mode: an empty
// body becomes JSON null; a non-empty body is posted as-is, not wrapped in
// any envelope.
func BuildRawResponse(body []byte) []byte {
	if len(body) == 0 {
		return []byte("null")
	}
	return body
}

// ErrorBody is the shape of the {error:{code,message,diagnostic?}} body
// returned for routing and script failures.
type ErrorBody struct {
	Error struct {
		Code       int    `json:"code"`
		Message    string `json:"message"`
		Diagnostic string `json:"diagnostic,omitempty"`
	} `json:"error"`
}

// BuildErrorResponse builds the JSON error body for a given status code,
// looking up its reason phrase in httpstatus and including diagnostic text
// only when provided (LWS_DIAGNOSTIC=on).
func BuildErrorResponse(code int, diagnostic string) ([]byte, error) {
	var e ErrorBody
	e.Error.Code = code
	if s, ok := httpstatus.Find(code); ok {
		e.Error.Message = s.Message
	}
	e.Error.Diagnostic = diagnostic
	return json.Marshal(e)
}
