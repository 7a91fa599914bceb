package autorun

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/daybrief-backend/internal/runstatus"
	"github.com/yungbote/daybrief-backend/internal/types"
)

func tickServer(t *testing.T, responses []TickSnapshot) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		n := atomic.AddInt32(&calls, 1)
		idx := int(n) - 1
		if idx >= len(responses) {
			idx = len(responses) - 1
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(responses[idx])
	}))
	return srv, &calls
}

func TestLoopRunsToCompletion(t *testing.T) {
	responses := []TickSnapshot{
		{Processed: 1, RunStatus: types.RunStatusRunning, Counts: runstatus.Counts{Queued: 2, Succeeded: 1}},
		{Processed: 1, RunStatus: types.RunStatusRunning, Counts: runstatus.Counts{Queued: 1, Succeeded: 2}},
		{Processed: 1, RunStatus: types.RunStatusCompleted, Counts: runstatus.Counts{Succeeded: 3}},
	}
	srv, calls := tickServer(t, responses)
	defer srv.Close()

	var mu sync.Mutex
	var ticks []TickSnapshot
	stopped := make(chan struct{})
	loop := New(Config{
		BaseURL:  srv.URL,
		RunID:    uuid.New(),
		Interval: time.Millisecond,
		OnTick: func(s TickSnapshot) {
			mu.Lock()
			ticks = append(ticks, s)
			mu.Unlock()
		},
		OnError:   func(err error) { t.Errorf("unexpected error: %v", err) },
		OnStopped: func() { close(stopped) },
	})
	loop.Start(context.Background())

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop")
	}
	loop.Stop()

	if got := atomic.LoadInt32(calls); got != 3 {
		t.Fatalf("expected 3 ticks, got %d", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(ticks) != 3 {
		t.Fatalf("expected 3 OnTick callbacks, got %d", len(ticks))
	}
	if ticks[2].RunStatus != types.RunStatusCompleted {
		t.Fatalf("final status = %s, want COMPLETED", ticks[2].RunStatus)
	}
}

func TestLoopStopsOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom","code":"internal_error"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	errCh := make(chan error, 1)
	stopped := make(chan struct{})
	loop := New(Config{
		BaseURL:   srv.URL,
		RunID:     uuid.New(),
		Interval:  time.Millisecond,
		OnError:   func(err error) { errCh <- err },
		OnStopped: func() { close(stopped) },
	})
	loop.Start(context.Background())

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("OnError not called")
	}
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop after error")
	}
	loop.Stop()
}

func TestLoopStopCancelsAndFiresOnce(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
			return
		}
		json.NewEncoder(w).Encode(TickSnapshot{RunStatus: types.RunStatusRunning})
	}))
	defer srv.Close()
	defer close(block)

	var stoppedCount int32
	loop := New(Config{
		BaseURL:   srv.URL,
		RunID:     uuid.New(),
		Interval:  time.Millisecond,
		OnStopped: func() { atomic.AddInt32(&stoppedCount, 1) },
	})
	loop.Start(context.Background())

	// Give the in-flight request time to start, then abort it.
	time.Sleep(50 * time.Millisecond)
	done := make(chan struct{})
	go func() {
		loop.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
	if got := atomic.LoadInt32(&stoppedCount); got != 1 {
		t.Fatalf("OnStopped fired %d times, want 1", got)
	}
}

func TestLoopStopBeforeStart(t *testing.T) {
	responses := []TickSnapshot{{Processed: 1, RunStatus: types.RunStatusCompleted}}
	srv, calls := tickServer(t, responses)
	defer srv.Close()

	var stoppedCount int32
	loop := New(Config{
		BaseURL:   srv.URL,
		RunID:     uuid.New(),
		Interval:  time.Millisecond,
		OnStopped: func() { atomic.AddInt32(&stoppedCount, 1) },
	})

	done := make(chan struct{})
	go func() {
		loop.Stop()
		loop.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
	if got := atomic.LoadInt32(&stoppedCount); got != 1 {
		t.Fatalf("OnStopped fired %d times, want 1", got)
	}

	// Start after Stop is a no-op: no request ever goes out.
	loop.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	if got := atomic.LoadInt32(calls); got != 0 {
		t.Fatalf("expected 0 ticks after stop-before-start, got %d", got)
	}
}

func TestLoopFirstTickWaitsForInterval(t *testing.T) {
	responses := []TickSnapshot{{Processed: 1, RunStatus: types.RunStatusCompleted}}
	srv, calls := tickServer(t, responses)
	defer srv.Close()

	stopped := make(chan struct{})
	loop := New(Config{
		BaseURL:   srv.URL,
		RunID:     uuid.New(),
		Interval:  200 * time.Millisecond,
		OnError:   func(err error) { t.Errorf("unexpected error: %v", err) },
		OnStopped: func() { close(stopped) },
	})
	loop.Start(context.Background())

	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(calls); got != 0 {
		t.Fatalf("expected no tick before the first interval, got %d", got)
	}

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop")
	}
	loop.Stop()
	if got := atomic.LoadInt32(calls); got != 1 {
		t.Fatalf("expected 1 tick, got %d", got)
	}
}

func TestLoopKeepsPollingWhileBusy(t *testing.T) {
	responses := []TickSnapshot{
		{Busy: true, RunStatus: types.RunStatusRunning},
		{Processed: 1, RunStatus: types.RunStatusCompleted, Counts: runstatus.Counts{Succeeded: 1}},
	}
	srv, calls := tickServer(t, responses)
	defer srv.Close()

	stopped := make(chan struct{})
	loop := New(Config{
		BaseURL:   srv.URL,
		RunID:     uuid.New(),
		Interval:  time.Millisecond,
		OnError:   func(err error) { t.Errorf("unexpected error: %v", err) },
		OnStopped: func() { close(stopped) },
	})
	loop.Start(context.Background())

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop")
	}
	loop.Stop()

	if got := atomic.LoadInt32(calls); got != 2 {
		t.Fatalf("expected 2 ticks, got %d", got)
	}
}
