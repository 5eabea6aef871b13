package platformapi_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/anaef/lws-go/internal/platformapi"
)

// newTestClient starts a platform-API stub and returns a Client pointed at
// it plus the mux for registering handlers.
func newTestClient(t *testing.T) (*platformapi.Client, *http.ServeMux) {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	host := strings.TrimPrefix(srv.URL, "http://")
	return platformapi.New(host), mux
}

func TestNext(t *testing.T) {
	client, mux := newTestClient(t)
	mux.HandleFunc("/2018-06-01/runtime/invocation/next", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method: got %s, want GET", r.Method)
		}
		w.Header().Set("Lambda-Runtime-Aws-Request-Id", "req-42")
		w.Header().Set("Lambda-Runtime-Trace-Id", "trace-1")
		w.Header().Set("Lambda-Runtime-Deadline-Ms", "123456")
		io.WriteString(w, `{"version":"2.0"}`)
	})

	inv, err := client.Next(context.Background())
	if err != nil {
		t.Fatalf("Next error: %v", err)
	}
	if inv.RequestID != "req-42" {
		t.Errorf("RequestID: got %q, want req-42", inv.RequestID)
	}
	if string(inv.Body) != `{"version":"2.0"}` {
		t.Errorf("Body: got %q", inv.Body)
	}
	if got := os.Getenv("_X_AMZN_TRACE_ID"); got != "trace-1" {
		t.Errorf("_X_AMZN_TRACE_ID: got %q, want trace-1", got)
	}
	if got := os.Getenv("_DEADLINE_MS"); got != "123456" {
		t.Errorf("_DEADLINE_MS: got %q, want 123456", got)
	}
}

func TestNextUnsetsAbsentHeaders(t *testing.T) {
	t.Setenv("_X_AMZN_TRACE_ID", "stale")
	t.Setenv("_DEADLINE_MS", "stale")

	client, mux := newTestClient(t)
	mux.HandleFunc("/2018-06-01/runtime/invocation/next", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Lambda-Runtime-Aws-Request-Id", "req-1")
		io.WriteString(w, `{}`)
	})

	if _, err := client.Next(context.Background()); err != nil {
		t.Fatalf("Next error: %v", err)
	}
	if _, ok := os.LookupEnv("_X_AMZN_TRACE_ID"); ok {
		t.Error("_X_AMZN_TRACE_ID should have been unset")
	}
	if _, ok := os.LookupEnv("_DEADLINE_MS"); ok {
		t.Error("_DEADLINE_MS should have been unset")
	}
}

func TestNextMissingRequestID(t *testing.T) {
	client, mux := newTestClient(t)
	mux.HandleFunc("/2018-06-01/runtime/invocation/next", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{}`)
	})

	if _, err := client.Next(context.Background()); err == nil {
		t.Error("expected error when the request-ID header is missing")
	}
}

func TestNextNon2xx(t *testing.T) {
	client, mux := newTestClient(t)
	mux.HandleFunc("/2018-06-01/runtime/invocation/next", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	if _, err := client.Next(context.Background()); err == nil {
		t.Error("expected error for a non-2xx poll response")
	}
}

func TestCancelUnblocksNext(t *testing.T) {
	client, mux := newTestClient(t)
	release := make(chan struct{})
	mux.HandleFunc("/2018-06-01/runtime/invocation/next", func(w http.ResponseWriter, r *http.Request) {
		<-release // block the poll until the test ends
	})
	t.Cleanup(func() { close(release) })

	errCh := make(chan error, 1)
	go func() {
		_, err := client.Next(context.Background())
		errCh <- err
	}()

	// Give the poll a moment to get in flight, then cancel it.
	time.Sleep(50 * time.Millisecond)
	client.Cancel()

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("cancelled poll should fail")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Cancel did not unblock the poll")
	}
}

func TestPostResponse(t *testing.T) {
	client, mux := newTestClient(t)
	var gotBody []byte
	var gotContentType string
	mux.HandleFunc("/2018-06-01/runtime/invocation/req-7/response", func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusAccepted)
	})

	if err := client.PostResponse(context.Background(), "req-7", []byte(`{"statusCode":200}`)); err != nil {
		t.Fatalf("PostResponse error: %v", err)
	}
	if string(gotBody) != `{"statusCode":200}` {
		t.Errorf("posted body: got %q", gotBody)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type: got %q", gotContentType)
	}
}

func TestPostErrorRoutes(t *testing.T) {
	client, mux := newTestClient(t)
	paths := make(chan string, 2)
	handler := func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		body, _ := io.ReadAll(r.Body)
		var e struct {
			ErrorMessage string    `json:"errorMessage"`
			ErrorType    *string   `json:"errorType"`
			StackTrace   []string  `json:"stackTrace"`
		}
		if err := json.Unmarshal(body, &e); err != nil {
			t.Errorf("error body is not JSON: %v", err)
		}
		if e.ErrorMessage == "" {
			t.Error("errorMessage missing")
		}
		if e.ErrorType != nil {
			t.Error("errorType should be null")
		}
		if e.StackTrace == nil || len(e.StackTrace) != 0 {
			t.Error("stackTrace should be an empty array")
		}
	}
	mux.HandleFunc("/2018-06-01/runtime/init/error", handler)
	mux.HandleFunc("/2018-06-01/runtime/invocation/req-9/error", handler)

	if err := client.PostError(context.Background(), "", "init failed"); err != nil {
		t.Fatalf("PostError (init) error: %v", err)
	}
	if got := <-paths; got != "/2018-06-01/runtime/init/error" {
		t.Errorf("init error path: got %q", got)
	}

	if err := client.PostError(context.Background(), "req-9", "invocation failed"); err != nil {
		t.Fatalf("PostError (invocation) error: %v", err)
	}
	if got := <-paths; got != "/2018-06-01/runtime/invocation/req-9/error" {
		t.Errorf("invocation error path: got %q", got)
	}
}

func TestStreamResponse(t *testing.T) {
	client, mux := newTestClient(t)
	type result struct {
		body         []byte
		contentType  string
		responseMode string
	}
	done := make(chan result, 1)
	mux.HandleFunc("/2018-06-01/runtime/invocation/req-5/response", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		done <- result{
			body:         body,
			contentType:  r.Header.Get("Content-Type"),
			responseMode: r.Header.Get("Lambda-Runtime-Function-Response-Mode"),
		}
	})

	prelude := []byte(`{"statusCode":200}`)
	stream, err := client.StreamResponse(context.Background(), "req-5", prelude)
	if err != nil {
		t.Fatalf("StreamResponse error: %v", err)
	}
	if _, err := stream.Write([]byte("AB")); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	got := <-done
	want := string(prelude) + string(make([]byte, 8)) + "AB"
	if string(got.body) != want {
		t.Errorf("streamed body: got %q, want %q", got.body, want)
	}
	if got.contentType != "application/vnd.awslambda.http-integration-response" {
		t.Errorf("Content-Type: got %q", got.contentType)
	}
	if got.responseMode != "streaming" {
		t.Errorf("response mode header: got %q", got.responseMode)
	}
}
