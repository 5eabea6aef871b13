package platformapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// streamSeparator is the 8 NUL bytes written between the JSON prelude and
// the streamed response body.
var streamSeparator = [8]byte{}

// Stream represents one in-progress streaming response. Write appends bytes
// to the HTTP request body as they become available; Close finalizes it.
// It is backed by an io.Pipe so the POST can begin (and the prelude can be
// flushed to the platform) before the full body is known; a blocked Write
// blocks on the pipe until the consumer (the HTTP transport) reads.
type Stream struct {
	pw   *io.PipeWriter
	done chan error
}

// StreamResponse begins a streaming response for requestID. prelude is the
// JSON object built the same way as a buffered response's headers
// (statusCode, headers, cookies) but without a body field; it is written
// first, followed by the 8-byte separator, followed by whatever is written
// to the returned Stream.
func (c *Client) StreamResponse(ctx context.Context, requestID string, prelude []byte) (*Stream, error) {
	pr, pw := io.Pipe()
	s := &Stream{pw: pw, done: make(chan error, 1)}

	url := fmt.Sprintf("%s/invocation/%s/response", c.base, requestID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		return nil, fmt.Errorf("platformapi: build stream request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/vnd.awslambda.http-integration-response")
	req.Header.Set("Lambda-Runtime-Function-Response-Mode", "streaming")
	req.Header.Set("Transfer-Encoding", "chunked")

	go func() {
		resp, err := c.hc.Do(req)
		if err != nil {
			s.done <- fmt.Errorf("platformapi: stream response: %w", err)
			return
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		if resp.StatusCode/100 != 2 {
			s.done <- fmt.Errorf("platformapi: stream response: status %d", resp.StatusCode)
			return
		}
		s.done <- nil
	}()

	if _, err := s.pw.Write(prelude); err != nil {
		return nil, fmt.Errorf("platformapi: write stream prelude: %w", err)
	}
	if _, err := s.pw.Write(streamSeparator[:]); err != nil {
		return nil, fmt.Errorf("platformapi: write stream separator: %w", err)
	}
	return s, nil
}

// Write sends a response-body chunk. It blocks until the HTTP transport has
// read it, providing backpressure against an unbounded response buffer.
func (s *Stream) Write(p []byte) (int, error) {
	return s.pw.Write(p)
}

// Close asserts end of body and waits for the transfer to complete.
func (s *Stream) Close() error {
	if err := s.pw.Close(); err != nil {
		return err
	}
	return <-s.done
}
