// Package platformapi implements the runtime's HTTP client for the Lambda
// custom-runtime control protocol: poll-next, post-response,
// stream-response, and post-error against the 2018-06-01 runtime API.
//
// The client uses a dedicated *http.Transport rather than the shared
// default, sized for a single invocation in flight: 1 s connect timeout, no
// response timeout (poll-next legitimately blocks until work arrives),
// TCP_NODELAY, HTTP/1.1.
package platformapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"syscall"
	"time"
)

const userAgent = "lws-go/0.1"

// Client talks to the platform's invocation endpoint at base (e.g. the value
// of AWS_LAMBDA_RUNTIME_API).
type Client struct {
	base string
	hc   *http.Client

	mu         sync.Mutex
	cancelPoll context.CancelFunc
	inPoll     bool
}

// New creates a Client against runtimeAPI (host:port, no scheme).
func New(runtimeAPI string) *Client {
	dialer := &net.Dialer{
		Timeout: 1 * time.Second,
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = setTCPNoDelay(fd)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		DisableKeepAlives:     false,
		MaxIdleConns:          4,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		// No ResponseHeaderTimeout: poll-next blocks until an invocation
		// arrives.
	}
	return &Client{
		base: "http://" + runtimeAPI + "/2018-06-01/runtime",
		hc:   &http.Client{Transport: transport},
	}
}

// Invocation is the result of a successful poll-next call: the raw event
// body plus the header fields the runtime protocol threads through
// out-of-band (request ID, trace ID, deadline).
type Invocation struct {
	RequestID  string
	TraceID    string
	DeadlineMs string
	ContentLen int64 // -1 if absent/invalid
	Body       []byte
}

// Next polls for the next invocation, blocking until one arrives, the
// context is canceled, or Cancel is called. The event-body JSON parsing
// itself lives in package envelope. On success the _X_AMZN_TRACE_ID and
// _DEADLINE_MS process environment variables are set from the response
// headers, or unset when the corresponding header is absent.
func (c *Client) Next(ctx context.Context) (*Invocation, error) {
	pollCtx, cancel := c.beginPoll(ctx)
	defer c.endPoll()
	defer cancel()

	req, err := http.NewRequestWithContext(pollCtx, http.MethodGet, c.base+"/invocation/next", nil)
	if err != nil {
		return nil, fmt.Errorf("platformapi: build next-invocation request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("platformapi: poll next invocation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("platformapi: poll next invocation: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("platformapi: read invocation body: %w", err)
	}

	inv := &Invocation{
		RequestID:  resp.Header.Get("Lambda-Runtime-Aws-Request-Id"),
		TraceID:    resp.Header.Get("Lambda-Runtime-Trace-Id"),
		DeadlineMs: resp.Header.Get("Lambda-Runtime-Deadline-Ms"),
		ContentLen: resp.ContentLength,
		Body:       body,
	}
	if inv.RequestID == "" {
		return nil, fmt.Errorf("platformapi: poll next invocation: missing request ID header")
	}
	setenvOrUnset("_X_AMZN_TRACE_ID", inv.TraceID)
	setenvOrUnset("_DEADLINE_MS", inv.DeadlineMs)
	return inv, nil
}

// setenvOrUnset sets name to value, or unsets it when value is empty, so a
// header absent on this invocation does not leak a stale value from the
// previous one into the script's environment.
func setenvOrUnset(name, value string) {
	if value == "" {
		os.Unsetenv(name) //nolint:errcheck
		return
	}
	os.Setenv(name, value) //nolint:errcheck
}

func (c *Client) beginPoll(ctx context.Context) (context.Context, context.CancelFunc) {
	pollCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancelPoll = cancel
	c.inPoll = true
	c.mu.Unlock()
	return pollCtx, cancel
}

func (c *Client) endPoll() {
	c.mu.Lock()
	c.inPoll = false
	c.cancelPoll = nil
	c.mu.Unlock()
}

// Cancel aborts an in-flight poll, if any. It is
// safe to call from a signal handler goroutine.
func (c *Client) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inPoll && c.cancelPoll != nil {
		c.cancelPoll()
	}
}

// PostResponse posts a buffered response body (already JSON-encoded) for
// requestID.
func (c *Client) PostResponse(ctx context.Context, requestID string, body []byte) error {
	return c.post(ctx, fmt.Sprintf("%s/invocation/%s/response", c.base, requestID), "application/json", body)
}

// PostError posts an error envelope. If requestID is empty, it posts to
// /init/error (an initialization failure before any invocation was polled);
// otherwise to /invocation/{id}/error.
func (c *Client) PostError(ctx context.Context, requestID string, errorMessage string) error {
	type errBody struct {
		ErrorMessage string   `json:"errorMessage"`
		ErrorType    *string  `json:"errorType"`
		StackTrace   []string `json:"stackTrace"`
	}
	payload, err := json.Marshal(errBody{ErrorMessage: errorMessage, StackTrace: []string{}})
	if err != nil {
		return fmt.Errorf("platformapi: marshal error body: %w", err)
	}
	url := c.base + "/init/error"
	if requestID != "" {
		url = fmt.Sprintf("%s/invocation/%s/error", c.base, requestID)
	}
	return c.post(ctx, url, "application/json", payload)
}

func (c *Client) post(ctx context.Context, url, contentType string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("platformapi: build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("platformapi: post %s: %w", url, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("platformapi: post %s: status %d", url, resp.StatusCode)
	}
	return nil
}
