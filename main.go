// lws-go is a custom AWS Lambda runtime that executes JavaScript request
// handlers against the Lambda function URL payload format.
//
// Startup sequence:
//  1. Load configuration from the process environment.
//  2. Initialise the logger and the long-lived runtime context (platform-API
//     client, stat cache, interpreter state, counters).
//  3. Install the SIGTERM/SIGINT handler that cancels a blocking poll.
//  4. Poll invocation/next, handle each invocation sequentially, and post
//     the response (buffered or streamed) back to the platform.
//  5. On termination, log final counters and exit cleanly.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/anaef/lws-go/internal/config"
	"github.com/anaef/lws-go/internal/logger"
	"github.com/anaef/lws-go/internal/orchestrator"
	"github.com/anaef/lws-go/internal/platformapi"
	"github.com/anaef/lws-go/internal/runtimectx"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── Configuration ──────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		// Without a valid configuration there may not even be a platform
		// endpoint to report against; try /init/error when the endpoint is
		// known, and log at EMERG either way.
		log := logger.NewStdout(logger.LevelErr, false)
		log.Emerg("", "initialization failed: %s", err)
		if api := os.Getenv("AWS_LAMBDA_RUNTIME_API"); api != "" {
			client := platformapi.New(api)
			if perr := client.PostError(context.Background(), "", err.Error()); perr != nil {
				log.Emerg("", "failed to report initialization error: %s", perr)
			}
		}
		return 1
	}

	// ── Logger ─────────────────────────────────────────────────────────────
	log := logger.NewStdout(logger.ParseLevel(cfg.LogLevel), cfg.LogText)
	log.Info("", "runtime starting up")

	// ── Runtime context ────────────────────────────────────────────────────
	rt := runtimectx.New(cfg, log)
	orch := orchestrator.New(cfg, log, rt.StatCache, rt.State, rt.Client)

	// ── Signal handling ────────────────────────────────────────────────────
	// A termination signal stops the loop at the next iteration and cancels
	// a blocking poll so shutdown is not delayed until the next invocation
	// arrives. A signal mid-invocation lets the invocation complete first.
	var stopping atomic.Bool
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		stopping.Store(true)
		log.Info("", "received signal %s; shutting down", sig)
		rt.Client.Cancel()
	}()

	// ── Main loop ──────────────────────────────────────────────────────────
	ctx := context.Background()
	for !stopping.Load() {
		inv, err := rt.Client.Next(ctx)
		if err != nil {
			if stopping.Load() || errors.Is(err, context.Canceled) {
				log.Info("", "poll cancelled")
				break
			}
			// A failed poll leaves no request ID to report an error
			// against; the platform will retry the invocation once a
			// replacement process is up.
			log.Emerg("", "failed to fetch next invocation: %s", err)
			return 1
		}

		rt.Metrics.IncrementInvocations()
		log.Debug(inv.RequestID, "invocation received (%d bytes)", len(inv.Body))

		status, err := orch.Handle(ctx, inv)
		if err != nil {
			rt.Metrics.IncrementFailed()
			log.Crit(inv.RequestID, "invocation failed: %s", err)
			if perr := rt.Client.PostError(ctx, inv.RequestID, err.Error()); perr != nil {
				log.Emerg(inv.RequestID, "failed to report invocation error: %s", perr)
				return 1
			}
			continue
		}
		rt.Metrics.IncrementSucceeded()
		log.Debug(inv.RequestID, "invocation complete (status %d)", status)
	}

	// ── Shutdown ───────────────────────────────────────────────────────────
	invocations, succeeded, failed := rt.Metrics.Snapshot()
	log.Info("", "final counters – invocations: %d | succeeded: %d | failed: %d | rate: %.1f/s",
		invocations, succeeded, failed, rt.Metrics.InvocationsPerSecond())
	log.Info("", "runtime shut down cleanly")
	return 0
}
