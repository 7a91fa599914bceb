// Package autorun drives a summary run to completion from the client
// side by posting tick requests in sequence. The server never advances
// a run on its own, so "automatic" progress is just this loop.
package autorun

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/daybrief-backend/internal/runstatus"
	"github.com/yungbote/daybrief-backend/internal/types"
)

// TickSnapshot mirrors the tick endpoint's response body.
type TickSnapshot struct {
	Busy      bool             `json:"busy"`
	Processed int              `json:"processed"`
	RunStatus types.RunStatus  `json:"run_status"`
	Counts    runstatus.Counts `json:"counts"`
}

type Config struct {
	BaseURL    string
	RunID      uuid.UUID
	Interval   time.Duration
	HTTPClient *http.Client
	OnTick     func(TickSnapshot)
	OnError    func(error)
	OnStopped  func()
}

// Loop posts ticks one at a time until the run reaches a terminal
// status, an error occurs, or Stop is called. At most one request is
// in flight at any moment.
type Loop struct {
	cfg     Config
	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

func New(cfg Config) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Loop{cfg: cfg, done: make(chan struct{})}
}

// Start launches the loop goroutine. The first request is issued after
// one Interval has elapsed. Calling Start again, or after Stop, does
// nothing.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return
	}
	l.started = true
	ctx, l.cancel = context.WithCancel(ctx)
	go l.run(ctx)
}

// Stop aborts any in-flight request and waits for the loop goroutine
// to exit. It is safe to call more than once, and before Start; a loop
// stopped before starting never issues a request, but its stopped
// callback still fires.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.started {
		l.started = true
		close(l.done)
	}
	cancel := l.cancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	<-l.done
	l.stopped()
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)
	defer l.stopped()

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(l.cfg.Interval):
		}
		snap, err := l.tick(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if l.cfg.OnError != nil {
				l.cfg.OnError(err)
			}
			return
		}
		if l.cfg.OnTick != nil {
			l.cfg.OnTick(snap)
		}
		if snap.RunStatus.Terminal() {
			return
		}
	}
}

func (l *Loop) stopped() {
	l.once.Do(func() {
		if l.cfg.OnStopped != nil {
			l.cfg.OnStopped()
		}
	})
}

func (l *Loop) tick(ctx context.Context) (TickSnapshot, error) {
	var snap TickSnapshot
	url := fmt.Sprintf("%s/api/runs/%s/tick", l.cfg.BaseURL, l.cfg.RunID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return snap, err
	}
	resp, err := l.cfg.HTTPClient.Do(req)
	if err != nil {
		return snap, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return snap, err
	}
	if resp.StatusCode != http.StatusOK {
		return snap, fmt.Errorf("tick %s: status %d: %s", l.cfg.RunID, resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, &snap); err != nil {
		return snap, fmt.Errorf("tick %s: decode response: %w", l.cfg.RunID, err)
	}
	return snap, nil
}
