package metrics_test

import (
	"sync"
	"testing"

	"github.com/anaef/lws-go/internal/metrics"
)

func TestIncrements(t *testing.T) {
	m := metrics.New()
	m.IncrementInvocations()
	m.IncrementInvocations()
	m.IncrementSucceeded()
	m.IncrementFailed()

	invocations, succeeded, failed := m.Snapshot()
	if invocations != 2 {
		t.Errorf("Invocations: got %d, want 2", invocations)
	}
	if succeeded != 1 {
		t.Errorf("Succeeded: got %d, want 1", succeeded)
	}
	if failed != 1 {
		t.Errorf("Failed: got %d, want 1", failed)
	}
}

func TestConcurrentIncrements(t *testing.T) {
	m := metrics.New()
	const goroutines = 1000
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			m.IncrementInvocations()
			m.IncrementSucceeded()
		}()
	}
	wg.Wait()

	invocations, succeeded, _ := m.Snapshot()
	if invocations != goroutines {
		t.Errorf("Invocations: got %d, want %d", invocations, goroutines)
	}
	if succeeded != goroutines {
		t.Errorf("Succeeded: got %d, want %d", succeeded, goroutines)
	}
}
