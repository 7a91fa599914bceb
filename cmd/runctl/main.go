// runctl drives a summary run to completion by ticking it over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/daybrief-backend/internal/autorun"
)

func main() {
	baseURL := flag.String("base-url", "http://localhost:8080", "server base URL")
	runIDRaw := flag.String("run", "", "summary run id (required)")
	interval := flag.Duration("interval", time.Second, "delay between ticks")
	flag.Parse()

	if *runIDRaw == "" {
		fmt.Fprintln(os.Stderr, "runctl: -run is required")
		flag.Usage()
		os.Exit(2)
	}
	runID, err := uuid.Parse(*runIDRaw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "runctl: invalid run id %q: %v\n", *runIDRaw, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	exitCode := 0
	done := make(chan struct{})
	loop := autorun.New(autorun.Config{
		BaseURL:  *baseURL,
		RunID:    runID,
		Interval: *interval,
		OnTick: func(s autorun.TickSnapshot) {
			if s.Busy {
				fmt.Printf("run %s busy, retrying\n", runID)
				return
			}
			fmt.Printf("run %s status=%s queued=%d running=%d succeeded=%d failed=%d cancelled=%d\n",
				runID, s.RunStatus,
				s.Counts.Queued, s.Counts.Running, s.Counts.Succeeded, s.Counts.Failed, s.Counts.Cancelled)
		},
		OnError: func(err error) {
			fmt.Fprintf(os.Stderr, "runctl: %v\n", err)
			exitCode = 1
		},
		OnStopped: func() { close(done) },
	})
	loop.Start(ctx)

	select {
	case <-done:
	case <-ctx.Done():
		loop.Stop()
		<-done
	}
	os.Exit(exitCode)
}
