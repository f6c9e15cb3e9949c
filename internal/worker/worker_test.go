package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/irrignode/controller/internal/model"
)

func TestStartRejectsDuplicateKey(t *testing.T) {
	m := New()
	block := make(chan struct{})
	defer close(block)

	_, err := m.Start(model.TaskIrrigation, "zone-1", func(ctx context.Context) error {
		<-block
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error on first start: %v", err)
	}

	_, err = m.Start(model.TaskIrrigation, "zone-1", func(ctx context.Context) error { return nil }, nil)
	var already *model.WorkerAlreadyExists
	if !errors.As(err, &already) {
		t.Fatalf("expected WorkerAlreadyExists, got %v", err)
	}
}

func TestStopCancelsAndWaits(t *testing.T) {
	m := New()
	started := make(chan struct{})

	_, err := m.Start(model.TaskIrrigation, "zone-1", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	<-started
	if err := m.Stop(model.TaskIrrigation, "zone-1", time.Second); err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
	if m.ActiveCount(model.TaskIrrigation) != 0 {
		t.Errorf("expected worker deregistered after stop")
	}
}

func TestStopTimesOutOnUnresponsiveWorker(t *testing.T) {
	m := New()
	block := make(chan struct{})
	defer close(block)

	_, err := m.Start(model.TaskIrrigation, "zone-1", func(ctx context.Context) error {
		<-block // ignores ctx.Done() entirely
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = m.Stop(model.TaskIrrigation, "zone-1", 20*time.Millisecond)
	var timeout *model.WorkerStopTimeout
	if !errors.As(err, &timeout) {
		t.Fatalf("expected WorkerStopTimeout, got %v", err)
	}
}

func TestOnFinishCalledWithWorkerError(t *testing.T) {
	m := New()
	boom := errors.New("boom")
	finished := make(chan error, 1)

	_, err := m.Start(model.TaskIrrigation, "zone-1", func(ctx context.Context) error {
		return boom
	}, func(err error) { finished <- err })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case got := <-finished:
		if !errors.Is(got, boom) {
			t.Errorf("expected onFinish to receive %v, got %v", boom, got)
		}
	case <-time.After(time.Second):
		t.Fatal("onFinish was never called")
	}
}

func TestPanicIsCapturedNotPropagated(t *testing.T) {
	m := New()
	finished := make(chan error, 1)

	_, err := m.Start(model.TaskIrrigation, "zone-1", func(ctx context.Context) error {
		panic("unexpected hardware state")
	}, func(err error) { finished <- err })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case got := <-finished:
		if got == nil {
			t.Fatal("expected a non-nil error recovered from the panic")
		}
	case <-time.After(time.Second):
		t.Fatal("onFinish was never called after panic")
	}
}

func TestJoinAllWaitsForAllMatchingWorkers(t *testing.T) {
	m := New()
	gate := make(chan struct{})

	for _, key := range []string{"zone-1", "zone-2"} {
		key := key
		_, err := m.Start(model.TaskIrrigation, key, func(ctx context.Context) error {
			<-gate
			return nil
		}, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	done := make(chan error, 1)
	go func() { done <- m.JoinAll(model.TaskIrrigation, time.Second) }()

	close(gate)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean join, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("JoinAll never returned")
	}
}

// A worker that ignores cancellation is reported stuck once its own
// DefaultJoinTimeout cap elapses; JoinAll must not let it run down the
// whole aggregate deadline first.
func TestJoinAllBoundsEachWorkerIndividually(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out the per-worker join cap")
	}

	m := New()
	release := make(chan struct{})
	defer close(release)

	_, err := m.Start(model.TaskIrrigation, "zone-1", func(ctx context.Context) error {
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = m.Start(model.TaskIrrigation, "zone-2", func(ctx context.Context) error {
		<-release // stuck: never observes ctx
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	start := time.Now()
	err = m.JoinAll(model.TaskIrrigation, 30*time.Second)
	elapsed := time.Since(start)

	var timeout *model.WorkerStopTimeout
	if !errors.As(err, &timeout) {
		t.Fatalf("expected WorkerStopTimeout, got %v", err)
	}
	if timeout.Key != "zone-2" {
		t.Errorf("timed-out worker = %q, want zone-2", timeout.Key)
	}
	if elapsed < 9*time.Second || elapsed > 15*time.Second {
		t.Errorf("JoinAll returned after %s; a stuck worker must be detected at the ~10s per-worker cap, not the 30s aggregate deadline", elapsed)
	}
}

func TestListActiveFiltersByTaskType(t *testing.T) {
	m := New()
	block := make(chan struct{})
	defer close(block)

	m.Start(model.TaskIrrigation, "zone-1", func(ctx context.Context) error { <-block; return nil }, nil)
	m.Start(model.TaskGeneral, "global", func(ctx context.Context) error { <-block; return nil }, nil)

	irrigation := m.ListActive(model.TaskIrrigation)
	if len(irrigation) != 1 || irrigation[0] != "zone-1" {
		t.Errorf("expected only zone-1 under TaskIrrigation, got %v", irrigation)
	}
	if m.ActiveCount("") != 2 {
		t.Errorf("expected 2 total active workers, got %d", m.ActiveCount(""))
	}
}
